package admin

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"joingate/internal/transport/telegram/router"
	"joingate/pkg/tgui"
)

func (p *Plugin) cmdStats(ctx context.Context, req *router.Request) error {
	st, err := p.Deps.Store.CountRecipients(ctx)
	if err != nil {
		return fmt.Errorf("count recipients: %w", err)
	}
	runs, err := p.Deps.Store.ListAudit(ctx, auditLimit)
	if err != nil {
		return fmt.Errorf("list audit: %w", err)
	}
	link, err := p.Deps.Store.GetLink(ctx)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}

	lines := []tgui.H{
		tgui.B("Статистика"),
		tgui.H("Заявок: ") + tgui.Code(strconv.Itoa(st.Rows)),
		tgui.H("Юзеров: ") + tgui.Code(strconv.Itoa(st.Users)),
		tgui.H("Заблокировали бота: ") + tgui.Code(strconv.Itoa(st.Blocked)),
		tgui.H("Ссылка: ") + tgui.Esc(link),
	}
	if len(runs) > 0 {
		lines = append(lines, "", tgui.B("Последние рассылки"))
		loc := p.location()
		for _, r := range runs {
			line := tgui.Code(r.At.In(loc).Format(time.DateTime)) + " " + tgui.Esc(r.Kind) +
				tgui.H(fmt.Sprintf(": %d/%d", r.Delivered, r.Attempted))
			if r.Aborted {
				line += " " + tgui.I("прервана")
			}
			lines = append(lines, line)
		}
	}
	opt := menuOptions()
	opt.ParseMode = "HTML"
	_, err = req.Reply(ctx, tgui.JoinH("\n", lines...).String(), opt)
	return err
}
