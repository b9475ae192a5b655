package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "joingate/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Moscow"; empty means Local
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Runner starts a named background function. *supervisor.Supervisor
// satisfies it.
type Runner interface {
	Go0(name string, fn func(ctx context.Context))
}

type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

// runState gates overlapping runs of one schedule.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire(policy OverlapPolicy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if policy == OverlapSkipIfRunning && s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     Job
	overlap OverlapPolicy
	entryID cron.EntryID
	state   *runState
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer // nil while the scheduler is stopped
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	runner Runner
	now    func() time.Time

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// one-shot timers, keyed by name; definitions survive Stop and are
	// re-armed by Start
	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64
	running bool

	runs    sync.WaitGroup
	skipMu  sync.Mutex
	skipped map[string]uint64
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type OnceInfo struct {
	Name string
	At   time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	Once      []OnceInfo
}
