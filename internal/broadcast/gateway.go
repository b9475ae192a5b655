package broadcast

import (
	"context"
	"fmt"

	kit "joingate/internal/transport"
)

// AdapterGateway delivers templates through a transport adapter.
type AdapterGateway struct {
	adapter kit.Adapter
}

func NewAdapterGateway(a kit.Adapter) *AdapterGateway { return &AdapterGateway{adapter: a} }

func (g *AdapterGateway) Deliver(ctx context.Context, recipientID int64, tpl Template) error {
	to := kit.ChatTarget{ChatID: recipientID}
	opt := sendOptions(tpl)
	switch tpl.Kind {
	case KindText:
		_, err := g.adapter.SendText(ctx, to, tpl.Text, opt)
		return err
	case KindPhoto, KindVideo:
		_, err := g.adapter.SendMedia(ctx, to, tpl.media(), tpl.Text, opt)
		return err
	case KindVideoNote:
		_, err := g.adapter.SendMedia(ctx, to, tpl.media(), "", nil)
		return err
	default:
		return fmt.Errorf("unsupported broadcast kind %q", tpl.Kind)
	}
}

// sendOptions sends text as-is: admins type plain text, so no parse mode.
func sendOptions(tpl Template) *kit.SendOptions {
	if tpl.Button == nil || !tpl.Kind.SupportsButton() {
		return nil
	}
	return &kit.SendOptions{Keyboard: [][]kit.Button{{{Text: tpl.Button.Label, URL: tpl.Button.URL}}}}
}
