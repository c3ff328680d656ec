package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
)

// Sentinel the agent loop prints when all stories are done. Authoritative:
// graceful termination after the sentinel can produce a non-zero exit code,
// so the sentinel wins over the exit status.
const completionSentinel = "<promise>COMPLETE</promise>"

var (
	iterationPattern = regexp.MustCompile(`Iteration (\d+)`)
	resultURLPattern = regexp.MustCompile(`https?://\S+/pull/\d+`)
)

const storyMarker = "Story complete"

// stderrTailLines bounds the captured stderr used for failure messages
const stderrTailLines = 20

// Store is the subset of the run store the driver writes progress through
type Store interface {
	UpdateRunProgress(id string, iterations, stories int, progressAt time.Time) error
	UpdateRunPID(id string, pid int) error
}

// Config holds the driver's liveness settings
type Config struct {
	Tool           string
	SilenceTimeout time.Duration
	KillGrace      time.Duration
}

// Outcome describes how one agent subprocess ended
type Outcome struct {
	SentinelSeen bool
	TimedOut     bool
	ExitCode     int
	Iterations   int
	Stories      int
	ResultURL    string
}

// storeOp is one queued persistence write
type storeOp struct {
	kind       string // "progress" or "pid"
	runID      string
	iterations int
	stories    int
	pid        int
	at         time.Time
}

// Driver runs exactly one agent-loop subprocess per Execute call and
// translates its stdout stream into progress updates and a terminal outcome.
// Progress writes flow through a buffered queue drained by a single writer
// goroutine so concurrent runs do not contend on the store.
type Driver struct {
	store Store
	cfg   Config
	log   *logging.Logger

	writeChan chan storeOp
	writeDone chan struct{}
	closeOnce sync.Once
}

// NewDriver creates a Driver and starts its store writer
func NewDriver(store Store, cfg Config, log *logging.Logger) *Driver {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 10 * time.Minute
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if log == nil {
		log = logging.NewNop()
	}
	d := &Driver{
		store:     store,
		cfg:       cfg,
		log:       log.WithComponent("executor"),
		writeChan: make(chan storeOp, 100),
		writeDone: make(chan struct{}),
	}
	go d.storeWriter()
	return d
}

// storeWriter drains queued writes sequentially to avoid lock contention
func (d *Driver) storeWriter() {
	for op := range d.writeChan {
		d.apply(op)
	}
	close(d.writeDone)
}

func (d *Driver) apply(op storeOp) {
	var err error
	switch op.kind {
	case "progress":
		err = d.store.UpdateRunProgress(op.runID, op.iterations, op.stories, op.at)
	case "pid":
		err = d.store.UpdateRunPID(op.runID, op.pid)
	}
	if err != nil {
		d.log.Warn("store write failed", "op", op.kind, "run", op.runID, "error", err)
	}
}

// queueWrite enqueues a store write, falling back to a synchronous apply
// when the queue is full so progress is never dropped.
func (d *Driver) queueWrite(op storeOp) {
	select {
	case d.writeChan <- op:
	default:
		d.apply(op)
	}
}

// Close stops the store writer and waits for queued writes to land
func (d *Driver) Close() {
	d.closeOnce.Do(func() {
		close(d.writeChan)
		<-d.writeDone
	})
}

// FindAgentLoop locates the agent loop entry point, workspace-relative
// candidates first. Absence of all candidates is a setup error, not a crash
// to recover from.
func FindAgentLoop(workspacePath, projectPath string) (string, error) {
	candidates := []string{
		filepath.Join(workspacePath, "scripts", "agent-loop.sh"),
		filepath.Join(workspacePath, "agent-loop.sh"),
		filepath.Join(projectPath, "scripts", "agent-loop.sh"),
		filepath.Join(projectPath, "agent-loop.sh"),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", domain.NewRunError(domain.ErrFatalSetup,
		fmt.Sprintf("agent loop script not found under %s or %s", workspacePath, projectPath), nil)
}

// Execute runs the agent loop for one run. The run must already be persisted
// as running with its workspace materialized. Returns the outcome and a nil
// error on success; on failure the error carries the taxonomy kind.
func (d *Driver) Execute(ctx context.Context, run *domain.Run, project *domain.Project, maxIterations int) (*Outcome, error) {
	outcome := &Outcome{
		Iterations: run.IterationsCompleted,
		Stories:    run.StoriesCompleted,
	}

	script, err := FindAgentLoop(run.WorkspacePath, project.Path)
	if err != nil {
		return outcome, err
	}

	tool := d.cfg.Tool
	if project.AgentTool != "" {
		tool = project.AgentTool
	}

	cmd := exec.Command(script, "--tool", tool, "--max-iterations", strconv.Itoa(maxIterations))
	cmd.Dir = run.WorkspacePath
	// Own process group, so termination reaches the loop's children too and
	// an orphaned child cannot hold the output pipes open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return outcome, domain.NewRunError(domain.ErrFatalSetup, "piping stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return outcome, domain.NewRunError(domain.ErrFatalSetup, "piping stderr", err)
	}

	if err := cmd.Start(); err != nil {
		return outcome, domain.NewRunError(domain.ErrFatalSetup, "starting agent loop", err)
	}

	pid := cmd.Process.Pid
	d.queueWrite(storeOp{kind: "pid", runID: run.ID, pid: pid})
	d.log.Info("agent started", "run", run.ID, "pid", pid, "script", script, "max_iterations", maxIterations)

	// Readers push chunks into a bounded channel consumed by the single
	// parse loop below; no parsing happens on the reader goroutines.
	chunks := make(chan string, 256)
	var stderrTail tail

	var wg sync.WaitGroup
	wg.Add(2)
	readLines := func(r io.Reader, isStderr bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if isStderr {
				stderrTail.append(line)
			}
			chunks <- line
		}
	}
	go readLines(stdout, false)
	go readLines(stderr, true)
	go func() {
		wg.Wait()
		close(chunks)
	}()

	// The silence timer races chunk arrival. Every chunk rearms it; if it
	// fires the run is marked timed out and the process escalated.
	silence := time.NewTimer(d.cfg.SilenceTimeout)
	defer silence.Stop()

	terminated := false
	terminate := func() {
		if terminated {
			return
		}
		terminated = true
		signalGroup(pid, syscall.SIGTERM)
		time.AfterFunc(d.cfg.KillGrace, func() {
			// Still alive after the grace period: force kill.
			if Alive(pid) {
				signalGroup(pid, syscall.SIGKILL)
			}
		})
	}

	done := ctx.Done()

parse:
	for {
		select {
		case line, ok := <-chunks:
			if !ok {
				break parse
			}
			d.parseChunk(run.ID, line, outcome)
			if outcome.SentinelSeen && !terminated {
				d.log.Info("completion sentinel observed", "run", run.ID)
				terminate()
			}
			if !silence.Stop() {
				select {
				case <-silence.C:
				default:
				}
			}
			silence.Reset(d.cfg.SilenceTimeout)
		case <-silence.C:
			outcome.TimedOut = true
			d.log.Warn("output silence timeout", "run", run.ID, "threshold", d.cfg.SilenceTimeout)
			terminate()
		case <-done:
			terminate()
			done = nil
		}
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			outcome.ExitCode = exitErr.ExitCode()
		}
	}
	d.queueWrite(storeOp{kind: "pid", runID: run.ID, pid: 0})

	// Exit 0 or sentinel means success, whichever exit code was recorded.
	if outcome.SentinelSeen || waitErr == nil {
		d.log.Info("agent completed", "run", run.ID,
			"iterations", outcome.Iterations, "stories", outcome.Stories, "exit_code", outcome.ExitCode)
		return outcome, nil
	}

	if outcome.TimedOut {
		return outcome, domain.NewRunError(domain.ErrLiveness,
			fmt.Sprintf("no output for %s, process terminated", d.cfg.SilenceTimeout), waitErr)
	}

	msg := stderrTail.String()
	if msg == "" {
		msg = waitErr.Error()
	}
	return outcome, domain.NewRunError(domain.ErrExecution, msg, waitErr)
}

// parseChunk applies the marker rules to one output line
func (d *Driver) parseChunk(runID, line string, outcome *Outcome) {
	progressed := false

	if m := iterationPattern.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > outcome.Iterations {
			outcome.Iterations = n
			progressed = true
		}
	}
	if strings.Contains(line, storyMarker) {
		outcome.Stories++
		progressed = true
	}
	if strings.Contains(line, completionSentinel) {
		outcome.SentinelSeen = true
	}
	if m := resultURLPattern.FindString(line); m != "" {
		outcome.ResultURL = m
	}

	if progressed {
		d.queueWrite(storeOp{
			kind:       "progress",
			runID:      runID,
			iterations: outcome.Iterations,
			stories:    outcome.Stories,
			at:         time.Now(),
		})
	}
}

// KillRunProcess force-kills the run's recorded subprocess. Best-effort:
// used by recovery before restarting a stuck run.
func (d *Driver) KillRunProcess(run *domain.Run) error {
	if run.PID == 0 {
		return nil
	}
	if !Alive(run.PID) {
		return nil
	}
	d.log.Info("killing agent process", "run", run.ID, "pid", run.PID)
	if err := signalGroup(run.PID, syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing pid %d: %w", run.PID, err)
	}
	return nil
}

// signalGroup signals the process group, falling back to the single pid
// when the group is gone already.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// Alive probes a pid with signal 0
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// tail keeps the last stderrTailLines lines under a lock; the reader
// goroutine appends while the parse loop may format a failure message.
type tail struct {
	mu    sync.Mutex
	lines []string
}

func (t *tail) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > stderrTailLines {
		t.lines = t.lines[len(t.lines)-stderrTailLines:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(strings.Join(t.lines, "\n"))
}
