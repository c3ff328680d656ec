package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
)

// Cycle is one periodic job the daemon drives: the scheduling pass, the
// health check, or the recovery sweep.
type Cycle struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Validate checks the cycle definition
func (c *Cycle) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("cycle name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cycle %s: cron expression is required", c.Name)
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("cycle %s: invalid cron expression: %w", c.Name, err)
	}
	if c.Run == nil {
		return fmt.Errorf("cycle %s: no run function", c.Name)
	}
	return nil
}

// Daemon runs registered cycles on their cron schedules. A cycle never
// overlaps itself; distinct cycles may run concurrently.
type Daemon struct {
	cycles   map[string]Cycle
	parser   cron.Parser
	lastRun  map[string]time.Time
	running  map[string]bool
	mu       sync.RWMutex
	tick     time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	log      *logging.Logger
}

// New creates a daemon for the given cycles
func New(cycles []Cycle, log *logging.Logger) (*Daemon, error) {
	d := &Daemon{
		cycles:   make(map[string]Cycle),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun:  make(map[string]time.Time),
		running:  make(map[string]bool),
		tick:     time.Minute,
		stopChan: make(chan struct{}),
		log:      log.WithComponent("daemon"),
	}

	for _, cycle := range cycles {
		if err := cycle.Validate(); err != nil {
			return nil, err
		}
		d.cycles[cycle.Name] = cycle
	}
	return d, nil
}

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// NextRun returns the next scheduled time for a cycle
func (d *Daemon) NextRun(name string) time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cycle, ok := d.cycles[name]
	if !ok {
		return time.Time{}
	}
	sched, err := d.parser.Parse(cycle.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// ShouldRun reports whether a cycle is due. A cycle that has never run is
// treated as last run a day ago, so fresh daemons fire promptly.
func (d *Daemon) ShouldRun(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cycle, ok := d.cycles[name]
	if !ok {
		return false
	}
	if d.running[name] {
		return false
	}

	sched, err := d.parser.Parse(cycle.Cron)
	if err != nil {
		return false
	}

	lastRun := d.lastRun[name]
	if lastRun.IsZero() {
		lastRun = time.Now().Add(-24 * time.Hour)
	}
	return time.Now().After(sched.Next(lastRun))
}

// MarkRunning marks a cycle as in flight
func (d *Daemon) MarkRunning(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[name] = true
}

// MarkComplete records a finished cycle
func (d *Daemon) MarkComplete(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[name] = false
	d.lastRun[name] = time.Now()
}

// Cycles returns all registered cycle names
func (d *Daemon) Cycles() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.cycles))
	for name := range d.cycles {
		names = append(names, name)
	}
	return names
}

// Start runs the daemon loop until the context is cancelled or Stop is
// called. Blocking; callers run it on their own goroutine if needed.
func (d *Daemon) Start(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.runDue(ctx)
		}
	}
}

func (d *Daemon) runDue(ctx context.Context) {
	for name := range d.cycles {
		if !d.ShouldRun(name) {
			continue
		}
		cycle := d.cycles[name]
		d.MarkRunning(name)
		go func(c Cycle) {
			defer d.MarkComplete(c.Name)
			if err := c.Run(ctx); err != nil {
				d.log.Error("cycle failed", "cycle", c.Name, "error", err)
				return
			}
			d.log.Debug("cycle complete", "cycle", c.Name)
		}(cycle)
	}
}

// Stop stops the daemon loop
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
}
