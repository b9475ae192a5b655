package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "joingate/pkg/logx"
)

// DefaultTimeout applies to jobs registered with a zero timeout.
const DefaultTimeout = 5 * time.Minute

type Option func(*Service)

// WithRunner runs jobs through r instead of bare goroutines.
func WithRunner(r Runner) Option { return func(s *Service) { s.runner = r } }

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "scheduler")),
		now: time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:    map[string]*onceDef{},
		skipped: map[string]uint64{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps the config; a timezone change re-registers every schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	<-s.c.Stop().Done()
	s.startCronLocked()
	s.log.Info("timezone changed", logx.String("tz", s.loc.String()))
}

// Start begins triggering cron schedules and arms pending one-shot timers.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startCronLocked()

	s.tmu.Lock()
	s.running = true
	for name, d := range s.once {
		s.armLocked(name, d)
	}
	pending := len(s.once)
	s.tmu.Unlock()

	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)), logx.Int("once", pending))
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts triggering and waits (bounded by ctx) for running jobs.
// One-shot definitions are kept and re-armed by the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	s.running = false
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// exec runs one trigger of job. Errors and panics are logged, never
// propagated to the runner.
func (s *Service) exec(name string, timeout time.Duration, job Job, state *runState, overlap OverlapPolicy) {
	if state != nil && !state.tryAcquire(overlap) {
		s.skipMu.Lock()
		s.skipped[name]++
		s.skipMu.Unlock()
		s.log.Debug("schedule trigger skipped", logx.String("name", name))
		return
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s.runs.Add(1)
	run := func(parent context.Context) {
		defer s.runs.Done()
		if state != nil {
			defer state.release()
		}
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		start := time.Now()
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("job panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return job(ctx)
		}()
		if err != nil {
			s.log.Warn("job failed", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		s.log.Debug("job done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}
	if s.runner != nil {
		s.runner.Go0("job:"+name, run)
		return
	}
	go run(context.Background())
}
