package router

import (
	"context"
	"sort"
	"strings"

	kit "joingate/internal/transport"
	"joingate/pkg/tgui"
)

func (r *Router) helpCommand() Command {
	return Command{
		Route:       "help",
		Description: "список команд",
		Access:      AccessAdmin,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpText(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return err
		},
	}
}

// helpText renders the command list in Telegram HTML.
func (r *Router) helpText() string {
	r.mu.RLock()
	cmds := make([]*Command, 0, len(r.commands))
	for _, c := range r.commands {
		cmds = append(cmds, c)
	}
	r.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Route < cmds[j].Route })

	lines := []tgui.H{tgui.B("Команды"), ""}
	for _, c := range cmds {
		line := "• " + tgui.Code("/"+c.Route)
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " " + tgui.Esc("- "+d)
		}
		if len(c.Aliases) > 0 {
			line += " " + tgui.I("("+strings.Join(c.Aliases, ", ")+")")
		}
		lines = append(lines, line)
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.String()
	}
	return strings.Join(out, "\n")
}
