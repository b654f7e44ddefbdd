package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/listing"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/metrics"
)

// minInterval is the floor for per-task refresh intervals.
const minInterval = 30 * time.Second

// ListingsHandler receives all listings collected in one tick. Handler
// errors are logged, never propagated into the scheduler loop.
type ListingsHandler func(ctx context.Context, listings []listing.RawListing) error

// Task is the registration record for one listing source. Mutated only
// by the scheduler.
type Task struct {
	Name     string
	Enabled  bool
	Interval time.Duration
	Factory  listing.Factory

	lastRun    time.Time
	lastResult *listing.SourceRunResult
	inFlight   bool
}

// TaskInfo is the externally visible view of a task.
type TaskInfo struct {
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	IntervalSec int        `json:"interval_seconds"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastSuccess *bool      `json:"last_success,omitempty"`
	LastCount   int        `json:"last_count"`
}

// Snapshot is a point-in-time view of scheduler statistics.
type Snapshot struct {
	Running       bool                `json:"running"`
	TotalTicks    int                 `json:"total_ticks"`
	TotalListings int                 `json:"total_listings"`
	TotalErrors   int                 `json:"total_errors"`
	StartTime     *time.Time          `json:"start_time,omitempty"`
	LastTickTime  *time.Time          `json:"last_tick_time,omitempty"`
	Tasks         map[string]TaskInfo `json:"tasks"`
}

// Scheduler orchestrates listing sources on per-task intervals. All due
// tasks in a tick run concurrently with failure isolation; results are
// aggregated and handed to the listings handler.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*Task

	onListings ListingsHandler
	collector  *metrics.Collector

	running       bool
	totalTicks    int
	totalListings int
	totalErrors   int
	startTime     time.Time
	lastTickTime  time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(onListings ListingsHandler, collector *metrics.Collector) *Scheduler {
	return &Scheduler{
		tasks:      make(map[string]*Task),
		onListings: onListings,
		collector:  collector,
		stopCh:     make(chan struct{}),
	}
}

// Register adds a task. A missing factory is a programming error and
// surfaces immediately rather than at run time.
func (s *Scheduler) Register(task Task) error {
	if task.Name == "" {
		return fmt.Errorf("task must have a name")
	}
	if task.Factory == nil {
		return fmt.Errorf("task %s: no factory", task.Name)
	}
	if task.Interval < minInterval {
		task.Interval = minInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Name] = &task
	return nil
}

// Enable turns a task on.
func (s *Scheduler) Enable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[name]; ok {
		task.Enabled = true
	}
}

// Disable turns a task off. Disabled tasks silently contribute zero
// listings per tick.
func (s *Scheduler) Disable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[name]; ok {
		task.Enabled = false
	}
}

// SetInterval updates a task's refresh interval, floored at 30s.
func (s *Scheduler) SetInterval(name string, seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[name]; ok {
		interval := time.Duration(seconds) * time.Second
		if interval < minInterval {
			interval = minInterval
		}
		task.Interval = interval
	}
}

// due reports whether a task should run now: never run before, or its
// interval has elapsed.
func (t *Task) due(now time.Time) bool {
	if t.lastRun.IsZero() {
		return true
	}
	return now.Sub(t.lastRun) >= t.Interval
}

// RunDueTasks launches every due task concurrently and aggregates the
// results. A task that is still in flight from a previous tick is
// skipped rather than overlapped.
func (s *Scheduler) RunDueTasks(ctx context.Context) []listing.SourceRunResult {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if !task.Enabled {
			continue
		}
		if task.inFlight {
			log.Debugf("Task %s still running, skipping this tick", task.Name)
			continue
		}
		if task.due(now) {
			task.inFlight = true
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return nil
	}

	return s.runTasks(ctx, due, now)
}

// RunAllOnce runs every enabled task immediately, regardless of interval.
func (s *Scheduler) RunAllOnce(ctx context.Context) []listing.SourceRunResult {
	now := time.Now().UTC()

	s.mu.Lock()
	all := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.Enabled && !task.inFlight {
			task.inFlight = true
			all = append(all, task)
		}
	}
	s.mu.Unlock()

	if len(all) == 0 {
		return nil
	}

	return s.runTasks(ctx, all, now)
}

func (s *Scheduler) runTasks(ctx context.Context, tasks []*Task, now time.Time) []listing.SourceRunResult {
	results := make([]listing.SourceRunResult, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, t *Task) {
			defer wg.Done()
			results[idx] = s.runTask(ctx, t)
		}(i, task)
	}
	wg.Wait()

	// Fold results into stats and collect this tick's listings. No
	// dedup here: dedup is applied after full classification, keyed by
	// (venue, external_id).
	var allListings []listing.RawListing
	for _, result := range results {
		if result.Success {
			allListings = append(allListings, result.Listings...)
		}
	}

	s.mu.Lock()
	s.totalTicks++
	s.totalListings += len(allListings)
	s.lastTickTime = now
	s.mu.Unlock()

	if s.collector != nil {
		s.collector.RecordTick()
		s.collector.RecordListingsObserved(len(allListings))
	}

	if len(allListings) > 0 && s.onListings != nil {
		s.callHandler(ctx, allListings)
	}

	return results
}

// runTask executes one task and updates its record. Failures are
// isolated: they update this task's state and the error counter but
// never affect sibling tasks in the same tick.
func (s *Scheduler) runTask(ctx context.Context, task *Task) listing.SourceRunResult {
	log.Infof("Running source: %s", task.Name)

	result := s.execute(ctx, task)

	s.mu.Lock()
	task.lastRun = time.Now().UTC()
	task.lastResult = &result
	task.inFlight = false
	if !result.Success && result.Error != listing.ErrNotConfigured {
		s.totalErrors++
	}
	s.mu.Unlock()

	if s.collector != nil {
		s.collector.RecordSourceRun(task.Name, result.Success, result.Duration.Seconds())
	}

	if result.Success {
		log.Infof("Source %s completed: %d listings in %v", task.Name, result.TotalFound, result.Duration)
	} else if result.Error == listing.ErrNotConfigured {
		log.Debugf("Source %s skipped: not configured", task.Name)
	} else {
		log.Errorf("Source %s failed: %s", task.Name, result.Error)
	}

	return result
}

func (s *Scheduler) execute(ctx context.Context, task *Task) listing.SourceRunResult {
	src, err := task.Factory()
	if err != nil {
		return listing.SourceRunResult{
			Venue:   task.Name,
			Success: false,
			Error:   fmt.Sprintf("create source: %v", err),
		}
	}
	return listing.Run(ctx, src)
}

// callHandler invokes the listings handler, recovering panics and
// logging errors so a bad handler cannot corrupt scheduler state.
func (s *Scheduler) callHandler(ctx context.Context, listings []listing.RawListing) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Listings handler panicked: %v", r)
			s.recordHandlerError()
		}
	}()

	if err := s.onListings(ctx, listings); err != nil {
		log.Errorf("Listings handler error: %v", err)
		s.recordHandlerError()
	}
}

func (s *Scheduler) recordHandlerError() {
	s.mu.Lock()
	s.totalErrors++
	s.mu.Unlock()
	if s.collector != nil {
		s.collector.RecordSchedulerError()
	}
}

// Start runs the scheduler loop until Stop. Each iteration runs due
// tasks, then waits up to the poll interval for a stop signal. Stop
// prevents the next tick; it never cancels an in-flight one.
func (s *Scheduler) Start(ctx context.Context, pollIntervalSeconds int) {
	s.mu.Lock()
	s.running = true
	s.startTime = time.Now().UTC()
	s.mu.Unlock()

	log.Info("Scheduler starting...")
	poll := time.Duration(pollIntervalSeconds) * time.Second

	for {
		s.RunDueTasks(ctx)

		select {
		case <-s.stopCh:
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			log.Info("Scheduler stopped")
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			log.Info("Scheduler context cancelled")
			return
		case <-time.After(poll):
		}
	}
}

// Stop signals the run loop to exit before its next poll. Tasks already
// in flight are left to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Stats returns a snapshot of scheduler state for operational
// visibility, never control flow.
func (s *Scheduler) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running:       s.running,
		TotalTicks:    s.totalTicks,
		TotalListings: s.totalListings,
		TotalErrors:   s.totalErrors,
		Tasks:         make(map[string]TaskInfo, len(s.tasks)),
	}
	if !s.startTime.IsZero() {
		t := s.startTime
		snap.StartTime = &t
	}
	if !s.lastTickTime.IsZero() {
		t := s.lastTickTime
		snap.LastTickTime = &t
	}

	for name, task := range s.tasks {
		info := TaskInfo{
			Name:        name,
			Enabled:     task.Enabled,
			IntervalSec: int(task.Interval.Seconds()),
		}
		if !task.lastRun.IsZero() {
			t := task.lastRun
			info.LastRun = &t
		}
		if task.lastResult != nil {
			success := task.lastResult.Success
			info.LastSuccess = &success
			info.LastCount = task.lastResult.TotalFound
		}
		snap.Tasks[name] = info
	}

	return snap
}
