package admin

import (
	kit "joingate/internal/transport"
	"joingate/pkg/tgui"
)

const pluginName = "admin"

const (
	actMailing = "mailing"
	actChoice  = "choice"
	actExport  = "export"
	actLink    = "link"
	actBack    = "back"
	actStats   = "stats"
)

func cb(action, payload string) string { return tgui.Data(pluginName, action, payload) }

func menuOptions() *kit.SendOptions {
	return tgui.NewInline().
		Row(tgui.Btn(btnMailing, cb(actMailing, ""))).
		Row(tgui.Btn(btnExport, cb(actExport, ""))).
		Row(tgui.Btn(btnLink, cb(actLink, ""))).
		Row(tgui.Btn(btnStats, cb(actStats, ""))).
		Options()
}

func yesNo() *kit.SendOptions {
	return tgui.NewInline().
		Row(tgui.Btn(btnYes, cb(actChoice, "yes")), tgui.Btn(btnNo, cb(actChoice, "no"))).
		Options()
}

func backOptions() *kit.SendOptions {
	return tgui.NewInline().Row(tgui.Btn(btnBack, cb(actBack, ""))).Options()
}
