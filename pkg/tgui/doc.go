// Package tgui provides small chat UI helpers shared by the plugins:
//   - inline keyboard builders over transport buttons
//   - callback data helpers (plugin:action:payload)
//   - HTML escaping for ParseMode="HTML"
package tgui
