package router

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	kit "joingate/internal/transport"
)

// sanitizeTelegramCommand converts a route or alias into a Telegram-safe
// command name: [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}

// buildTelegramMenuCommands lists public commands first, then admin ones
// marked with a lock, each group sorted by name.
func buildTelegramMenuCommands(cmds []Command) []kit.BotCommand {
	type entry struct {
		cmd   string
		desc  string
		admin bool
	}
	byCmd := map[string]entry{}
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Route)
		if name == "" {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		admin := c.Access == AccessAdmin
		if admin {
			desc = "🔒 " + desc
		}
		desc = clipDescription(desc)
		if _, ok := byCmd[name]; ok {
			continue
		}
		byCmd[name] = entry{cmd: name, desc: desc, admin: admin}
	}

	entries := make([]entry, 0, len(byCmd))
	for _, e := range byCmd {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].admin != entries[j].admin {
			return !entries[i].admin
		}
		return entries[i].cmd < entries[j].cmd
	})

	out := make([]kit.BotCommand, 0, len(entries))
	for _, e := range entries {
		out = append(out, kit.BotCommand{Command: e.cmd, Description: e.desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

// Telegram rejects BotCommand descriptions longer than this.
const maxCommandDescription = 256

// clipDescription shortens desc to maxCommandDescription runes, the last one
// being an ellipsis.
func clipDescription(desc string) string {
	if utf8.RuneCountInString(desc) <= maxCommandDescription {
		return desc
	}
	runes := []rune(desc)
	return string(runes[:maxCommandDescription-1]) + "…"
}
