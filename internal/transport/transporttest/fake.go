// Package transporttest provides a recording in-memory transport adapter.
package transporttest

import (
	"context"
	"sync"

	kit "joingate/internal/transport"
)

// Sent is one outbound call recorded by Adapter.
type Sent struct {
	Op       string // "text" | "media" | "document" | "edit" | "answer"
	ChatID   int64
	Text     string // text or caption
	Media    *kit.Media
	Document *kit.Document
	Options  *kit.SendOptions
}

// Adapter records every outbound call. FailFor makes sends to the given
// chat ids fail with the mapped error.
type Adapter struct {
	mu      sync.Mutex
	sent    []Sent
	nextID  int
	FailFor map[int64]error
}

func New() *Adapter { return &Adapter{FailFor: map[int64]error{}} }

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error                         { return nil }

func (a *Adapter) record(s Sent) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.FailFor[s.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	a.sent = append(a.sent, s)
	a.nextID++
	return kit.MessageRef{ChatID: s.ChatID, MessageID: a.nextID}, nil
}

// Fail configures sends to chatID to fail with err (nil clears it).
func (a *Adapter) Fail(chatID int64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.FailFor, chatID)
		return
	}
	a.FailFor[chatID] = err
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.record(Sent{Op: "text", ChatID: to.ChatID, Text: text, Options: opt})
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, media kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	m := media
	return a.record(Sent{Op: "media", ChatID: to.ChatID, Text: caption, Media: &m, Options: opt})
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	d := doc
	return a.record(Sent{Op: "document", ChatID: to.ChatID, Text: caption, Document: &d, Options: opt})
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	_, err := a.record(Sent{Op: "edit", ChatID: ref.ChatID, Text: text, Options: opt})
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	a.mu.Lock()
	a.sent = append(a.sent, Sent{Op: "answer", Text: text})
	a.mu.Unlock()
	return nil
}

// Sent returns a copy of all recorded calls.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// SentTo returns the recorded calls addressed to chatID.
func (a *Adapter) SentTo(chatID int64) []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Sent
	for _, s := range a.sent {
		if s.ChatID == chatID && s.Op != "answer" {
			out = append(out, s)
		}
	}
	return out
}

// Reset drops the recorded history.
func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent = nil
	a.mu.Unlock()
}
