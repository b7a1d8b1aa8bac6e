package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/daemonp/visonic2mqtt/internal/config"
	"github.com/daemonp/visonic2mqtt/internal/executor"
	"github.com/daemonp/visonic2mqtt/internal/log"
	"github.com/daemonp/visonic2mqtt/internal/panel"
)

var (
	ErrCannotConnect = errors.New("cannot connect")
	ErrInvalidAuth   = errors.New("invalid auth")
)

// Form error keys, as shown next to the setup form.
const (
	FormErrorCannotConnect = "cannot_connect"
	FormErrorInvalidAuth   = "invalid_auth"
	FormErrorInvalidInput  = "invalid_input"
	FormErrorUnknown       = "unknown"
)

// Info is what a successful validation returns to the flow.
type Info struct {
	Title string
}

// ValidateInput checks that the service can be reached and the account
// credentials are accepted. The panel itself is not logged into.
func ValidateInput(ctx context.Context, pool *executor.Pool, dial panel.Dialer, input config.EntryConfig) (Info, error) {
	cli, err := executor.Call(ctx, pool, "setup", func() (panel.Client, error) {
		return dial(ctx, input.Host, input.UUID)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Info{}, err
		}
		return Info{}, fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}

	if err := pool.Do(ctx, "authenticate", func() error {
		return cli.Authenticate(ctx, input.Email, input.Password)
	}); err != nil {
		if ctx.Err() != nil {
			return Info{}, err
		}
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidAuth, err)
	}

	return Info{Title: fmt.Sprintf("Alarm Panel (%s)", input.PanelID)}, nil
}

// EntryStore persists entries created by the flow.
type EntryStore interface {
	Get(id string) (config.EntryConfig, error)
	Add(entry config.EntryConfig) (config.EntryConfig, error)
	Replace(entry config.EntryConfig) error
}

// FlowResult carries either the stored entry or the form errors keyed by
// field ("base" for the whole form).
type FlowResult struct {
	Entry  config.EntryConfig
	Errors map[string]string
	Err    error
}

func (r FlowResult) OK() bool {
	return len(r.Errors) == 0
}

type ConfigFlow struct {
	pool  *executor.Pool
	dial  panel.Dialer
	store EntryStore
	log   *log.Logger

	newUUID func() string
}

func NewConfigFlow(pool *executor.Pool, dial panel.Dialer, store EntryStore, logger *log.Logger) *ConfigFlow {
	return &ConfigFlow{
		pool:    pool,
		dial:    dial,
		store:   store,
		log:     logger,
		newUUID: uuid.NewString,
	}
}

// Submit validates input and, if it passes, stores it as a new entry.
func (f *ConfigFlow) Submit(ctx context.Context, input config.EntryConfig) (FlowResult, error) {
	input, result := f.validate(ctx, input)
	if !result.OK() {
		return result, nil
	}

	entry, err := f.store.Add(input)
	if err != nil {
		return FlowResult{}, fmt.Errorf("failed to store entry: %w", err)
	}
	f.log.Info("Created entry %s (%s)", entry.ID, entry.Title)
	return FlowResult{Entry: entry}, nil
}

// Defaults returns the form defaults for reconfiguring an entry. The master
// code is never pre-filled.
func (f *ConfigFlow) Defaults(entryID string) (config.EntryConfig, error) {
	entry, err := f.store.Get(entryID)
	if err != nil {
		return config.EntryConfig{}, err
	}
	entry.MasterCode = ""
	return entry, nil
}

// Reconfigure validates input and replaces the stored data of entryID.
func (f *ConfigFlow) Reconfigure(ctx context.Context, entryID string, input config.EntryConfig) (FlowResult, error) {
	if _, err := f.store.Get(entryID); err != nil {
		return FlowResult{}, err
	}

	input, result := f.validate(ctx, input)
	if !result.OK() {
		return result, nil
	}

	input.ID = entryID
	if err := f.store.Replace(input); err != nil {
		return FlowResult{}, fmt.Errorf("failed to store entry: %w", err)
	}
	f.log.Info("Reconfigured entry %s (%s)", input.ID, input.Title)
	return FlowResult{Entry: input}, nil
}

// validate assigns a fresh correlation token before talking to the service
// so the stored entry reuses the token that was just checked.
func (f *ConfigFlow) validate(ctx context.Context, input config.EntryConfig) (config.EntryConfig, FlowResult) {
	input.UUID = f.newUUID()

	if err := input.Validate(); err != nil {
		return input, FlowResult{Errors: map[string]string{"base": FormErrorInvalidInput}, Err: err}
	}

	info, err := ValidateInput(ctx, f.pool, f.dial, input)
	switch {
	case errors.Is(err, ErrCannotConnect):
		return input, FlowResult{Errors: map[string]string{"base": FormErrorCannotConnect}, Err: err}
	case errors.Is(err, ErrInvalidAuth):
		return input, FlowResult{Errors: map[string]string{"base": FormErrorInvalidAuth}, Err: err}
	case err != nil:
		f.log.Error("Unexpected exception: %v", err)
		return input, FlowResult{Errors: map[string]string{"base": FormErrorUnknown}, Err: err}
	}

	input.Title = info.Title
	return input, FlowResult{}
}
