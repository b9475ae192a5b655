package admin

import (
	"context"
	"fmt"

	"joingate/internal/broadcast"
	kit "joingate/internal/transport"
)

// presenter renders composer prompts in the admin's private chat.
type presenter struct {
	adapter kit.Adapter
	gateway *broadcast.AdapterGateway
}

func (p *presenter) say(ctx context.Context, adminID int64, text string, opt *kit.SendOptions) error {
	_, err := p.adapter.SendText(ctx, kit.ChatTarget{ChatID: adminID}, text, opt)
	return err
}

func (p *presenter) PromptPayload(ctx context.Context, adminID int64) error {
	return p.say(ctx, adminID, payloadPrompt, nil)
}

func (p *presenter) PromptButtonChoice(ctx context.Context, adminID int64) error {
	return p.say(ctx, adminID, buttonChoicePrompt, yesNo())
}

func (p *presenter) PromptButtonText(ctx context.Context, adminID int64) error {
	return p.say(ctx, adminID, buttonTextPrompt, nil)
}

func (p *presenter) PromptButtonURL(ctx context.Context, adminID int64) error {
	return p.say(ctx, adminID, buttonURLPrompt, nil)
}

func (p *presenter) InvalidURL(ctx context.Context, adminID int64) error {
	return p.say(ctx, adminID, invalidURLText, nil)
}

// Preview delivers the template to the admin through the same gateway the
// fan-out uses, so a URL Telegram rejects fails here first.
func (p *presenter) Preview(ctx context.Context, adminID int64, tpl broadcast.Template) error {
	if err := p.say(ctx, adminID, previewHeader, nil); err != nil {
		return err
	}
	return p.gateway.Deliver(ctx, adminID, tpl)
}

func (p *presenter) PromptConfirm(ctx context.Context, adminID int64) error {
	return p.say(ctx, adminID, confirmPrompt, yesNo())
}

func (p *presenter) Cancelled(ctx context.Context, adminID int64) error {
	return p.say(ctx, adminID, notSentText, menuOptions())
}

func (p *presenter) Sent(ctx context.Context, adminID int64, rep broadcast.Report) error {
	return p.say(ctx, adminID, fmt.Sprintf(sentText, rep.Delivered), menuOptions())
}

func (p *presenter) Failed(ctx context.Context, adminID int64, err error) error {
	return p.say(ctx, adminID, fmt.Sprintf(runFailedText, err), menuOptions())
}
