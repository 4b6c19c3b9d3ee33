package alarm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"healthtimer/internal/eventbus"
	"healthtimer/internal/reminder"
	logx "healthtimer/pkg/logx"
)

// Event types published by the alarm service.
const (
	EventTimerFired = "alarm.fired"
	EventJobFailed  = "alarm.job_failed"
)

// Config controls the alarm service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
	// JobTimeout bounds a single periodic job run (default 30s).
	JobTimeout time.Duration
}

// Handler receives the armed alert when its timer fires. It runs on its
// own goroutine with the service context.
type Handler func(ctx context.Context, a reminder.Alert)

// Job is a periodic unit of work.
type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    string // cron spec or @every
	job     Job
	entryID cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	lastErr atomic.Value // string
}

// Service implements reminder.Delivery and runs periodic jobs.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []*jobDef

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	// armed reminder (timer is runtime; pending survives Stop/Start)
	tmu     sync.Mutex
	armOn   bool // timers run between Start and Stop
	timer   *time.Timer
	pending *reminder.Alert
	ver     uint64
	onFire  Handler
}

// JobInfo describes one registered periodic job.
type JobInfo struct {
	Name      string
	Spec      string
	Next      time.Time
	Prev      time.Time
	Runs      uint64
	LastError string
}

type Snapshot struct {
	Running  bool
	Timezone string
	Armed    *reminder.Alert
	Jobs     []JobInfo
}
