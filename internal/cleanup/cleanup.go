package cleanup

import (
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Func is one cleanup step. It returns an error if the step fails.
type Func func() error

// Manager runs registered cleanup steps in LIFO order, exactly once.
type Manager struct {
	mu       sync.Mutex
	funcs    []Func
	err      error
	logger   *zap.Logger
	executed atomic.Bool
	done     chan struct{}
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		funcs:  make([]Func, 0),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Add pushes f onto the stack. Nil functions are ignored. Steps added after
// Execute has started never run.
func (cm *Manager) Add(f Func) {
	if f == nil {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.funcs = append(cm.funcs, f)
}

// Execute runs every step, last added first, even when earlier steps fail.
// The first caller performs the work; concurrent callers wait for it and every
// caller receives the same combined error.
func (cm *Manager) Execute() error {
	if !cm.executed.CompareAndSwap(false, true) {
		<-cm.done
		return cm.err
	}
	defer close(cm.done)

	cm.mu.Lock()
	funcs := cm.funcs
	cm.funcs = nil
	cm.mu.Unlock()

	cm.logger.Debug("Starting cleanup process...", zap.Int("steps", len(funcs)))
	var errs error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			cm.logger.Error("Cleanup error encountered", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	cm.err = errs
	cm.logger.Debug("Cleanup process finished.")

	_ = cm.logger.Sync()
	return cm.err
}

// Executed reports whether Execute has been called.
func (cm *Manager) Executed() bool {
	return cm.executed.Load()
}
