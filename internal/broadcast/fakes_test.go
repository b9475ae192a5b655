package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"joingate/internal/storage"
)

type delivery struct {
	To  int64
	Tpl Template
}

type fakeGateway struct {
	mu     sync.Mutex
	calls  []delivery
	fail   map[int64]error
	onSend func(id int64)
}

func newFakeGateway() *fakeGateway { return &fakeGateway{fail: map[int64]error{}} }

func (g *fakeGateway) Deliver(ctx context.Context, id int64, tpl Template) error {
	if g.onSend != nil {
		g.onSend(id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, delivery{To: id, Tpl: tpl})
	return g.fail[id]
}

func (g *fakeGateway) Calls() []delivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]delivery(nil), g.calls...)
}

type staticRecipients struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (r *staticRecipients) ListNonBlocked(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...), r.err
}

func (r *staticRecipients) set(ids ...int64) {
	r.mu.Lock()
	r.ids = ids
	r.mu.Unlock()
}

type sinkCall struct {
	ID  int64
	Err string
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
}

func (s *fakeSink) DeliveryFailed(ctx context.Context, id int64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{ID: id, Err: err.Error()})
	return s.err
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *fakeAudit) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	ok, fail int
	runs     []string
}

func (r *fakeRecorder) ObserveDelivery(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.ok++
	} else {
		r.fail++
	}
}

func (r *fakeRecorder) ObserveRun(kind string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, kind)
}

// fakePresenter records prompt names. Preview delegates to previewFn when set.
type fakePresenter struct {
	mu        sync.Mutex
	events    []string
	previews  []Template
	reports   []Report
	failures  []error
	previewFn func(tpl Template) error
	failOn    map[string]error
}

func newFakePresenter() *fakePresenter { return &fakePresenter{failOn: map[string]error{}} }

func (p *fakePresenter) record(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, name)
	return p.failOn[name]
}

func (p *fakePresenter) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *fakePresenter) count(name string) int {
	n := 0
	for _, e := range p.Events() {
		if e == name {
			n++
		}
	}
	return n
}

func (p *fakePresenter) PromptPayload(ctx context.Context, id int64) error {
	return p.record("payload")
}
func (p *fakePresenter) PromptButtonChoice(ctx context.Context, id int64) error {
	return p.record("button_choice")
}
func (p *fakePresenter) PromptButtonText(ctx context.Context, id int64) error {
	return p.record("button_text")
}
func (p *fakePresenter) PromptButtonURL(ctx context.Context, id int64) error {
	return p.record("button_url")
}
func (p *fakePresenter) InvalidURL(ctx context.Context, id int64) error {
	return p.record("invalid_url")
}
func (p *fakePresenter) PromptConfirm(ctx context.Context, id int64) error {
	return p.record("confirm")
}
func (p *fakePresenter) Cancelled(ctx context.Context, id int64) error {
	return p.record("cancelled")
}

func (p *fakePresenter) Preview(ctx context.Context, id int64, tpl Template) error {
	if err := p.record("preview"); err != nil {
		return err
	}
	if p.previewFn != nil {
		if err := p.previewFn(tpl); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.previews = append(p.previews, tpl)
	p.mu.Unlock()
	return nil
}

func (p *fakePresenter) Sent(ctx context.Context, id int64, rep Report) error {
	p.mu.Lock()
	p.reports = append(p.reports, rep)
	p.mu.Unlock()
	return p.record("sent")
}

func (p *fakePresenter) Failed(ctx context.Context, id int64, err error) error {
	p.mu.Lock()
	p.failures = append(p.failures, err)
	p.mu.Unlock()
	return p.record("failed")
}

func (p *fakePresenter) Reports() []Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Report(nil), p.reports...)
}

var errBlocked = errors.New("Forbidden: bot was blocked by the user")
