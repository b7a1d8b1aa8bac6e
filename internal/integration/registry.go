// Package integration wires configured entries to panel sessions, alarm
// entities and the refresh schedule.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/daemonp/visonic2mqtt/internal/alarm"
	"github.com/daemonp/visonic2mqtt/internal/config"
	"github.com/daemonp/visonic2mqtt/internal/executor"
	"github.com/daemonp/visonic2mqtt/internal/log"
	"github.com/daemonp/visonic2mqtt/internal/metrics"
	"github.com/daemonp/visonic2mqtt/internal/panel"
)

// A panel needs a moment after login before its status is meaningful, so
// long intervals get one extra refresh shortly after setup.
const (
	DefaultEarlyRefreshDelay     = 30 * time.Second
	DefaultEarlyRefreshThreshold = 30 * time.Second
)

var (
	ErrNotReady      = errors.New("entry not ready")
	ErrAlreadySetUp  = errors.New("entry already set up")
	ErrEntryNotFound = errors.New("entry not set up")
)

// Binder is the host side of an entity: it is told when an entity appears,
// changes and goes away.
type Binder interface {
	Bind(entryID string, entity *alarm.Entity) error
	Publish(entryID string, entity *alarm.Entity)
	Unbind(entryID string, entity *alarm.Entity)
}

type Options struct {
	EarlyRefreshDelay     time.Duration
	EarlyRefreshThreshold time.Duration
}

type Registry struct {
	dial   panel.Dialer
	pool   *executor.Pool
	binder Binder
	log    *log.Logger
	opts   Options

	mu      sync.Mutex
	entries map[string]*runtime
}

type runtime struct {
	entry   config.EntryConfig
	handler *panel.Handler
	entity  *alarm.Entity
	stop    chan struct{}
	done    chan struct{}
}

func NewRegistry(dial panel.Dialer, pool *executor.Pool, binder Binder, logger *log.Logger, opts Options) *Registry {
	if opts.EarlyRefreshDelay == 0 {
		opts.EarlyRefreshDelay = DefaultEarlyRefreshDelay
	}
	if opts.EarlyRefreshThreshold == 0 {
		opts.EarlyRefreshThreshold = DefaultEarlyRefreshThreshold
	}
	return &Registry{
		dial:    dial,
		pool:    pool,
		binder:  binder,
		log:     logger,
		opts:    opts,
		entries: make(map[string]*runtime),
	}
}

// SetupEntry logs into the panel, binds its entity and starts the refresh
// schedule. A login failure is reported as ErrNotReady so the caller can
// try again later.
func (r *Registry) SetupEntry(ctx context.Context, entry config.EntryConfig) error {
	r.mu.Lock()
	_, exists := r.entries[entry.ID]
	r.mu.Unlock()
	if exists {
		return fmt.Errorf("%s: %w", entry.ID, ErrAlreadySetUp)
	}

	logger := r.log.With("entry", entry.ID)
	logger.Info("Starting Visonic Alarm with entry id=%s (uuid=%s)", entry.ID, entry.UUID)

	handler := panel.NewHandler(entry, r.dial, r.pool, logger)
	if err := handler.Login(ctx); err != nil {
		logger.Error("Visonic Panel could not be reached: [%v]", err)
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	entity := alarm.NewEntity(handler, logger)
	entity.Update()
	if err := r.binder.Bind(entry.ID, entity); err != nil {
		return fmt.Errorf("failed to bind entity for %s: %w", entry.ID, err)
	}
	entity.Attach(func(e *alarm.Entity) {
		r.binder.Publish(entry.ID, e)
	})

	rt := &runtime{
		entry:   entry,
		handler: handler,
		entity:  entity,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.entries[entry.ID]; exists {
		r.mu.Unlock()
		entity.Detach()
		r.binder.Unbind(entry.ID, entity)
		return fmt.Errorf("%s: %w", entry.ID, ErrAlreadySetUp)
	}
	r.entries[entry.ID] = rt
	r.mu.Unlock()

	go r.schedule(rt, logger)
	return nil
}

// schedule refreshes on every interval tick, plus once early for long
// intervals. Refreshes run in their own goroutine so a slow one never
// delays the next tick.
func (r *Registry) schedule(rt *runtime, logger *log.Logger) {
	defer close(rt.done)

	interval := rt.entry.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var early <-chan time.Time
	if interval > r.opts.EarlyRefreshThreshold {
		timer := time.NewTimer(r.opts.EarlyRefreshDelay)
		defer timer.Stop()
		early = timer.C
	}

	refresh := func() {
		if err := rt.handler.Refresh(context.Background()); err != nil {
			logger.Warn("Panel update failed for %s: %v", rt.entry.PanelID, err)
		}
	}

	for {
		select {
		case <-rt.stop:
			return
		case <-early:
			early = nil
			go refresh()
		case <-ticker.C:
			go refresh()
		}
	}
}

// UnloadEntry stops the schedule and releases the entity. Refreshes that
// are already running finish, but nobody listens to them anymore.
func (r *Registry) UnloadEntry(entryID string) error {
	r.mu.Lock()
	rt, ok := r.entries[entryID]
	delete(r.entries, entryID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", entryID, ErrEntryNotFound)
	}

	close(rt.stop)
	<-rt.done

	rt.entity.Detach()
	r.binder.Unbind(entryID, rt.entity)
	metrics.Forget(entryID)
	r.log.Info("Unloaded entry %s", entryID)
	return nil
}

// Start sets up every entry in the background, retrying entries that are
// not ready every retry until ctx is done.
func (r *Registry) Start(ctx context.Context, entries []config.EntryConfig, retry time.Duration) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.setupWithRetry(ctx, entry, retry)
		}()
	}
	return &wg
}

func (r *Registry) setupWithRetry(ctx context.Context, entry config.EntryConfig, retry time.Duration) {
	for {
		err := r.SetupEntry(ctx, entry)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrNotReady) {
			r.log.Error("Failed to set up entry %s: %v", entry.ID, err)
			return
		}
		r.log.Warn("Entry %s not ready, retrying in %s", entry.ID, retry)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// Close unloads every entry.
func (r *Registry) Close() {
	for _, id := range r.EntryIDs() {
		_ = r.UnloadEntry(id)
	}
}

func (r *Registry) EntryIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Entity(entryID string) (*alarm.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.entries[entryID]
	if !ok {
		return nil, false
	}
	return rt.entity, true
}

func (r *Registry) handler(entryID string) (*panel.Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.entries[entryID]
	if !ok {
		return nil, false
	}
	return rt.handler, true
}
