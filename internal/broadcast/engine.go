package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"joingate/internal/eventbus"
	"joingate/internal/storage"
	logx "joingate/pkg/logx"
)

// Gateway delivers one template to one recipient. Errors are opaque and
// forwarded verbatim to the diagnostic sink.
type Gateway interface {
	Deliver(ctx context.Context, recipientID int64, tpl Template) error
}

// DiagnosticSink receives every failed delivery of a run.
type DiagnosticSink interface {
	DeliveryFailed(ctx context.Context, recipientID int64, err error) error
}

// Recipients is the slice of the recipient store the engine reads.
type Recipients interface {
	ListNonBlocked(ctx context.Context) ([]int64, error)
}

// AuditLog records finished runs.
type AuditLog interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Recorder observes runs and individual deliveries (metrics).
type Recorder interface {
	ObserveDelivery(ok bool)
	ObserveRun(kind string, d time.Duration)
}

// Report summarizes one run.
type Report struct {
	RunID     string        `json:"run_id"`
	ActorID   int64         `json:"actor_id"`
	Kind      Kind          `json:"kind"`
	Attempted int           `json:"attempted"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	// Aborted is set when the hosting context ended before every recipient
	// was attempted (process shutdown).
	Aborted bool `json:"aborted"`
}

// Engine delivers a template to every non-blocked recipient, one at a time,
// in the order the store lists them. A failed delivery is reported to the
// sink and skipped; it never stops the run. There is no retry and no rate
// limiting.
type Engine struct {
	recipients Recipients
	gw         Gateway
	sink       DiagnosticSink

	audit    AuditLog
	bus      eventbus.Bus
	recorder Recorder
	log      logx.Logger
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithAudit(a AuditLog) EngineOption       { return func(e *Engine) { e.audit = a } }
func WithEventBus(b eventbus.Bus) EngineOption { return func(e *Engine) { e.bus = b } }
func WithRecorder(r Recorder) EngineOption     { return func(e *Engine) { e.recorder = r } }
func WithEngineLogger(l logx.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func NewEngine(recipients Recipients, gw Gateway, sink DiagnosticSink, opts ...EngineOption) *Engine {
	e := &Engine{recipients: recipients, gw: gw, sink: sink, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "broadcast.engine"))
	return e
}

// Run snapshots the recipient list once and attempts exactly one delivery
// per recipient. The returned error is non-nil only when the snapshot could
// not be read; per-recipient failures are counted in the report.
func (e *Engine) Run(ctx context.Context, tpl Template, actorID int64) (Report, error) {
	rep := Report{RunID: uuid.NewString(), ActorID: actorID, Kind: tpl.Kind}
	start := e.now()
	log := e.log.With(logx.String("run_id", rep.RunID), logx.Int64("actor_id", actorID), logx.String("kind", string(tpl.Kind)))

	ids, err := e.recipients.ListNonBlocked(ctx)
	if err != nil {
		return rep, fmt.Errorf("list recipients: %w", err)
	}
	log.Info("broadcast started", logx.Int("recipients", len(ids)))

	for _, id := range ids {
		if ctx.Err() != nil {
			rep.Aborted = true
			break
		}
		err := e.gw.Deliver(ctx, id, tpl)
		// Interrupted by shutdown; not counted.
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			rep.Aborted = true
			break
		}
		rep.Attempted++
		if e.recorder != nil {
			e.recorder.ObserveDelivery(err == nil)
		}
		if err == nil {
			rep.Delivered++
			continue
		}
		rep.Failed++
		log.Debug("delivery failed", logx.Int64("recipient_id", id), logx.Err(err))
		if e.sink != nil {
			if serr := e.sink.DeliveryFailed(ctx, id, err); serr != nil {
				log.Warn("diagnostic sink failed", logx.Int64("recipient_id", id), logx.Err(serr))
			}
		}
	}
	rep.Duration = e.now().Sub(start)

	log.Info("broadcast finished",
		logx.Int("attempted", rep.Attempted),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Bool("aborted", rep.Aborted),
		logx.Duration("took", rep.Duration),
	)
	e.finish(ctx, rep)
	return rep, nil
}

func (e *Engine) finish(ctx context.Context, rep Report) {
	if e.recorder != nil {
		e.recorder.ObserveRun(string(rep.Kind), rep.Duration)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.BroadcastFinished, Data: rep})
	}
	if e.audit != nil {
		// Written even when shutdown aborted the run.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := e.audit.AppendAudit(actx, storage.AuditEntry{
			At:        e.now(),
			RunID:     rep.RunID,
			ActorID:   rep.ActorID,
			Kind:      string(rep.Kind),
			Attempted: rep.Attempted,
			Delivered: rep.Delivered,
			Failed:    rep.Failed,
			Aborted:   rep.Aborted,
			TookMS:    rep.Duration.Milliseconds(),
		})
		if err != nil {
			e.log.Warn("broadcast audit failed", logx.String("run_id", rep.RunID), logx.Err(err))
		}
	}
}
