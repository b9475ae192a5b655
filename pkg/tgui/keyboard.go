package tgui

import (
	kit "joingate/internal/transport"
)

// Inline is a small builder for inline keyboards.
type Inline struct {
	rows [][]kit.Button
}

func NewInline() *Inline { return &Inline{} }

// Row appends a row of buttons. Empty rows are skipped.
func (i *Inline) Row(btn ...kit.Button) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, append([]kit.Button(nil), btn...))
	return i
}

func (i *Inline) Rows() [][]kit.Button { return i.rows }

// Options returns send options carrying the keyboard.
func (i *Inline) Options() *kit.SendOptions {
	return &kit.SendOptions{Keyboard: i.rows}
}

// Btn creates a callback button. Build data with Data.
func Btn(text, data string) kit.Button {
	return kit.Button{Text: text, Data: data}
}

// URLBtn creates a URL button.
func URLBtn(text, url string) kit.Button {
	return kit.Button{Text: text, URL: url}
}

// Grid splits buttons into rows of n columns.
func Grid(n int, buttons []kit.Button) [][]kit.Button {
	if n <= 0 {
		n = 1
	}
	var rows [][]kit.Button
	for len(buttons) > 0 {
		k := min(n, len(buttons))
		rows = append(rows, append([]kit.Button(nil), buttons[:k]...))
		buttons = buttons[k:]
	}
	return rows
}

// ReplyButton returns options for a one-row reply keyboard with a single
// text button.
func ReplyButton(text string) *kit.SendOptions {
	return &kit.SendOptions{ReplyKeyboard: [][]string{{text}}}
}
