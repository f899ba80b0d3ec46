package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Configurer is awaited before any contribution starts.
type Configurer interface {
	Configure(ctx context.Context) error
}

type Starter interface {
	OnStart(ctx context.Context) error
}

type Stopper interface {
	OnStop()
}

// AppState 表示应用生命周期状态
type AppState string

const (
	AppStateUnknown     AppState = "unknown"
	AppStateConfiguring AppState = "configuring"
	AppStateStarted     AppState = "started"
	AppStateStopping    AppState = "stopping"
	AppStateStopped     AppState = "stopped"
)

// Application drives its contributions through configure, start and stop.
type Application struct {
	contributions []any
	state         AppState
	stateMutex    sync.RWMutex
	stopOnce      sync.Once
	logger        *slog.Logger
}

func NewApplication(log *slog.Logger) (*Application, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Application{
		state:  AppStateUnknown,
		logger: log,
	}, nil
}

// Register adds a contribution. It must implement at least one of
// Configurer, Starter or Stopper.
func (a *Application) Register(c any) error {
	switch c.(type) {
	case Configurer, Starter, Stopper:
	default:
		return fmt.Errorf("%w: %T", ErrNotAContribution, c)
	}

	a.stateMutex.Lock()
	defer a.stateMutex.Unlock()
	if a.state != AppStateUnknown {
		return ErrAlreadyStarted
	}
	a.contributions = append(a.contributions, c)
	return nil
}

// Run configures and starts every contribution, then blocks until ctx is
// done and stops them in reverse order.
func (a *Application) Run(ctx context.Context) error {
	if !a.transition(AppStateUnknown, AppStateConfiguring) {
		return ErrAlreadyStarted
	}
	a.logger.Info("Configuring application", "contributions", len(a.contributions))

	for _, c := range a.contributions {
		cfg, ok := c.(Configurer)
		if !ok {
			continue
		}
		if err := cfg.Configure(ctx); err != nil {
			a.logger.Error("Failed to configure contribution", "contribution", fmt.Sprintf("%T", c), "error", err)
			a.setState(AppStateStopped)
			return fmt.Errorf("failed to configure %T: %w", c, err)
		}
	}

	for _, c := range a.contributions {
		s, ok := c.(Starter)
		if !ok {
			continue
		}
		if err := s.OnStart(ctx); err != nil {
			a.logger.Error("Failed to start contribution", "contribution", fmt.Sprintf("%T", c), "error", err)
			a.Stop()
			return fmt.Errorf("failed to start %T: %w", c, err)
		}
	}

	a.setState(AppStateStarted)
	a.logger.Info("Application started")

	<-ctx.Done()
	a.Stop()
	return nil
}

// Stop calls OnStop on every contribution, last registered first. Only the
// first call has an effect.
func (a *Application) Stop() {
	a.stopOnce.Do(func() {
		a.setState(AppStateStopping)
		for i := len(a.contributions) - 1; i >= 0; i-- {
			if s, ok := a.contributions[i].(Stopper); ok {
				s.OnStop()
			}
		}
		a.setState(AppStateStopped)
		a.logger.Info("Application stopped")
	})
}

// GetState 获取当前应用状态
func (a *Application) GetState() AppState {
	a.stateMutex.RLock()
	defer a.stateMutex.RUnlock()
	return a.state
}

func (a *Application) transition(from, to AppState) bool {
	a.stateMutex.Lock()
	defer a.stateMutex.Unlock()
	if a.state != from {
		return false
	}
	a.state = to
	return true
}

func (a *Application) setState(newState AppState) {
	a.stateMutex.Lock()
	defer a.stateMutex.Unlock()

	oldState := a.state
	if oldState != newState {
		a.state = newState
		a.logger.Debug("State changed",
			"from", oldState,
			"to", newState)
	}
}
