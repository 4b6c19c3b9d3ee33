package alarm

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"healthtimer/internal/eventbus"
	logx "healthtimer/pkg/logx"
)

// AddJob registers or replaces the periodic job called name. schedule
// accepts the forms understood by ParseSchedule. A run is skipped while
// the previous run of the same job is still in flight.
func (s *Service) AddJob(name, schedule string, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// upsert by name so hot reloads replace instead of duplicating
	s.removeJobLocked(name)
	d := &jobDef{name: name, spec: spec, job: job}
	s.defs = append(s.defs, d)
	if s.c == nil {
		// registered on Start
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("job register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("job registered", args...)
	return nil
}

// RemoveJob unregisters name. It reports whether something was removed.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeJobLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("job removed", logx.String("name", name))
	}
	return removed
}

// Trigger runs name now, outside its schedule. It returns false when the
// job is unknown, the service is stopped or a run is already in flight.
func (s *Service) Trigger(name string) bool {
	s.mu.Lock()
	var d *jobDef
	for _, it := range s.defs {
		if it.name == name {
			d = it
			break
		}
	}
	running := s.c != nil
	s.mu.Unlock()
	if d == nil || !running {
		return false
	}
	return s.runJob(d)
}

func (s *Service) removeJobLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	for i := n; i < len(s.defs); i++ {
		s.defs[i] = nil
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *jobDef) error {
	// cron waits for job funcs on Stop; never block it on s.mu
	job := cron.FuncJob(func() { go s.runJob(d) })
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		d.entryID = 0
		return err
	}
	d.entryID = eid
	return nil
}

// runJob starts one run of d on its own goroutine unless one is in flight.
func (s *Service) runJob(d *jobDef) bool {
	if !d.running.CompareAndSwap(false, true) {
		s.log.Debug("job skipped: previous run in flight", logx.String("name", d.name))
		return false
	}
	s.mu.Lock()
	parent := s.runCtx
	timeout := s.cfg.JobTimeout
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		d.running.Store(false)
		return false
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer d.running.Store(false)

		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		start := time.Now()
		err := s.safeRun(ctx, d)
		d.runs.Add(1)
		if err != nil {
			d.lastErr.Store(err.Error())
			s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
			s.bus.Publish(eventbus.Event{Type: EventJobFailed, Data: d.name})
			return
		}
		d.lastErr.Store("")
		s.log.Trace("job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
	}()
	return true
}

func (s *Service) safeRun(ctx context.Context, d *jobDef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panic", logx.String("name", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return d.job(ctx)
}

// previewNextRunsLocked returns upcoming run times for spec, for debug
// logs only. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
