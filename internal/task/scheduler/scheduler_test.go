package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "joingate/pkg/logx"
)

func started(t *testing.T) *Service {
	t.Helper()
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		kind  SpecKind
		cron  string
		every time.Duration
		err   bool
	}{
		{in: "0 9 * * *", kind: SpecCron, cron: "0 9 * * *"},
		{in: "@daily", kind: SpecCron, cron: "@daily"},
		{in: "cron:@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "6h", kind: SpecInterval, every: 6 * time.Hour},
		{in: "24:00", kind: SpecInterval, every: 24 * time.Hour},
		{in: "every:00:30", kind: SpecInterval, every: 30 * time.Minute},
		{in: "", err: true},
		{in: "0s", err: true},
		{in: "01:75", err: true},
		{in: "soon", err: true},
		{in: "cron:", err: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error = %v", tt.in, err)
		}
		if got.Kind != tt.kind || got.Cron != tt.cron || got.Every != tt.every {
			t.Fatalf("ParseSchedule(%q) = %+v, want kind %v cron %q every %v", tt.in, got, tt.kind, tt.cron, tt.every)
		}
	}
}

func TestAddAfterFiresOnce(t *testing.T) {
	t.Parallel()
	s := started(t)
	var runs atomic.Int32
	if err := s.AddAfter("followup:1", 10*time.Millisecond, time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddAfter() error = %v", err)
	}
	waitFor(t, "one-shot run", func() bool { return runs.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Fatalf("runs = %d, want 1", n)
	}
	if len(s.Snapshot().Once) != 0 {
		t.Fatal("fired one-shot still listed")
	}
}

func TestAddOnceReplacesByName(t *testing.T) {
	t.Parallel()
	s := started(t)
	var first, second atomic.Int32
	_ = s.AddAfter("followup:2", 50*time.Millisecond, 0, func(ctx context.Context) error { first.Add(1); return nil })
	_ = s.AddAfter("followup:2", 10*time.Millisecond, 0, func(ctx context.Context) error { second.Add(1); return nil })
	waitFor(t, "replacement run", func() bool { return second.Load() == 1 })
	time.Sleep(80 * time.Millisecond)
	if first.Load() != 0 {
		t.Fatal("replaced one-shot still ran")
	}
}

func TestRemoveCancelsOnce(t *testing.T) {
	t.Parallel()
	s := started(t)
	var runs atomic.Int32
	_ = s.AddAfter("followup:3", 30*time.Millisecond, 0, func(ctx context.Context) error { runs.Add(1); return nil })
	if !s.Remove("followup:3") {
		t.Fatal("Remove() = false, want true")
	}
	if s.Remove("followup:3") {
		t.Fatal("second Remove() = true, want false")
	}
	time.Sleep(60 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("removed one-shot ran")
	}
}

func TestOnceWaitsForStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	var runs atomic.Int32
	_ = s.AddAfter("early", 0, 0, func(ctx context.Context) error { runs.Add(1); return nil })
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("one-shot ran before Start")
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	waitFor(t, "run after start", func() bool { return runs.Load() == 1 })
}

func TestSkipIfRunning(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	release := make(chan struct{})
	var runs atomic.Int32
	job := func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}
	state := &runState{}
	s.exec("export", time.Second, job, state, OverlapSkipIfRunning)
	waitFor(t, "first run", func() bool { return runs.Load() == 1 })
	s.exec("export", time.Second, job, state, OverlapSkipIfRunning)
	close(release)
	s.Stop(context.Background())

	if n := runs.Load(); n != 1 {
		t.Fatalf("runs = %d, want 1", n)
	}
	if n := s.Skipped("export"); n != 1 {
		t.Fatalf("Skipped() = %d, want 1", n)
	}
}

func TestJobErrorsAndPanicsAreContained(t *testing.T) {
	t.Parallel()
	s := started(t)
	var done atomic.Int32
	_ = s.AddAfter("boom", 0, 0, func(ctx context.Context) error {
		defer done.Add(1)
		panic("boom")
	})
	_ = s.AddAfter("fail", 0, 0, func(ctx context.Context) error {
		defer done.Add(1)
		return errors.New("fail")
	})
	waitFor(t, "both jobs", func() bool { return done.Load() == 2 })
}

func TestJobTimeout(t *testing.T) {
	t.Parallel()
	s := started(t)
	got := make(chan error, 1)
	_ = s.AddAfter("slow", 0, 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})
	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx.Err() = %v, want DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job context never expired")
	}
}

func TestAddScheduleValidation(t *testing.T) {
	t.Parallel()
	s := started(t)
	noop := func(ctx context.Context) error { return nil }
	if err := s.AddSchedule("bad", "61 * * * *", 0, noop); err == nil {
		t.Fatal("AddSchedule(bad cron) error = nil")
	}
	if err := s.AddSchedule("", "1h", 0, noop); err == nil {
		t.Fatal("AddSchedule(no name) error = nil")
	}
	if err := s.AddSchedule("export", "0 9 * * *", 0, noop); err != nil {
		t.Fatalf("AddSchedule(cron) error = %v", err)
	}
	if err := s.AddSchedule("export", "6h", 0, noop); err != nil {
		t.Fatalf("AddSchedule(interval) error = %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "@every 6h0m0s" {
		t.Fatalf("schedules = %+v, want one replaced interval", snap.Schedules)
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatal("next run not computed")
	}
	if snap.Timezone != "UTC" {
		t.Fatalf("timezone = %q, want UTC", snap.Timezone)
	}
}
