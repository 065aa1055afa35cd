package scripts

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ReservedPrefix marks files in the scripts directory that are never run.
const ReservedPrefix = "__"

const lockRetryInterval = 100 * time.Millisecond

// State is the lifecycle position of one unit within a run.
type State string

const (
	StatePending     State = "pending"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateSoftSkipped State = "soft_skipped"
	StateFailed      State = "failed"
)

// Result describes one discovered unit after a run.
type Result struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	Kind     string        `json:"kind,omitempty"`
	State    State         `json:"state"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Report lists every unit discovered by RunAll in execution order.
type Report struct {
	Dir      string        `json:"dir"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Results  []Result      `json:"results"`
}

// Failed returns the unit that aborted the run, if any.
func (r Report) Failed() (Result, bool) {
	for _, res := range r.Results {
		if res.State == StateFailed {
			return res, true
		}
	}
	return Result{}, false
}

// Observer is notified when a unit reaches a terminal state.
type Observer interface {
	ScriptFinished(name string, state State, elapsed time.Duration)
}

// Option configures a Runner.
type Option func(*Runner)

// WithFs overrides the filesystem scripts are read from.
func WithFs(fs afero.Fs) Option {
	return func(r *Runner) {
		if fs != nil {
			r.fs = fs
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHandler registers h for units of the given kind.
func WithHandler(kind string, h Handler) Option {
	return func(r *Runner) {
		r.handlers[kind] = h
	}
}

// WithObserver attaches an observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithLockFile serializes runs across processes sharing path.
func WithLockFile(path string) Option {
	return func(r *Runner) {
		r.lockPath = path
	}
}

// Runner executes startup scripts sequentially in file-name order.
type Runner struct {
	fs       afero.Fs
	logger   *zap.Logger
	handlers map[string]Handler
	observer Observer
	lockPath string
}

// NewRunner creates a Runner reading the OS filesystem.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		fs:       afero.NewOsFs(),
		logger:   zap.NewNop(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kinds returns the registered unit kinds, sorted.
func (r *Runner) Kinds() []string {
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// RunAll runs every regular file in dir whose name does not start with
// ReservedPrefix, one at a time, sorted by name. A unit that stops with
// Exit(0) or ErrNothingToDo is skipped softly. Any other error stops the run:
// the remaining units stay pending and a *FailureError naming the unit is
// returned alongside the report.
func (r *Runner) RunAll(ctx context.Context, dir string) (report Report, err error) {
	report = Report{Dir: dir, Started: time.Now()}
	defer func() { report.Duration = time.Since(report.Started) }()

	if r.lockPath != "" {
		unlock, err := r.lock(ctx)
		if err != nil {
			return report, err
		}
		defer unlock()
	}

	names, err := r.discover(dir)
	if err != nil {
		return report, err
	}
	report.Results = make([]Result, len(names))
	for i, name := range names {
		report.Results[i] = Result{Name: name, Path: filepath.Join(dir, name), State: StatePending}
	}

	for i := range report.Results {
		res := &report.Results[i]
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res.State = StateRunning
		r.logger.Info("running startup script", zap.String("path", res.Path))
		start := time.Now()
		err := r.runOne(ctx, res)
		res.Duration = time.Since(start)

		switch {
		case err == nil:
			res.State = StateCompleted
		case isSoftStop(err):
			res.State = StateSoftSkipped
			r.logger.Info("startup script had nothing to do", zap.String("path", res.Path))
		default:
			res.State = StateFailed
			res.Error = err.Error()
			r.logger.Error("startup script failed, aborting", zap.String("path", res.Path), zap.Error(err))
		}
		if r.observer != nil {
			r.observer.ScriptFinished(res.Name, res.State, res.Duration)
		}
		if res.State == StateFailed {
			return report, &FailureError{Script: res.Path, Err: err}
		}
	}
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, res *Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	unit, err := readUnit(r.fs, res.Path)
	if err != nil {
		return err
	}
	res.Kind = unit.Kind

	h, ok := r.handlers[unit.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, unit.Kind)
	}
	return h.Run(ctx, unit)
}

func (r *Runner) discover(dir string) ([]string, error) {
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list startup scripts: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ReservedPrefix) {
			continue
		}
		// Stat follows symlinks
		fi, err := r.fs.Stat(filepath.Join(dir, name))
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Runner) lock(ctx context.Context) (func(), error) {
	fileLock := flock.New(r.lockPath)
	locked, err := fileLock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", r.lockPath, err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return func() {
		if err := fileLock.Unlock(); err != nil {
			r.logger.Warn("release startup script lock", zap.String("path", r.lockPath), zap.Error(err))
		}
	}, nil
}
