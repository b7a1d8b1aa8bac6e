package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daemonp/visonic2mqtt/internal/alarm"
	"github.com/daemonp/visonic2mqtt/internal/config"
	"github.com/daemonp/visonic2mqtt/internal/executor"
	"github.com/daemonp/visonic2mqtt/internal/log"
	"github.com/daemonp/visonic2mqtt/internal/panel/paneltest"
	"github.com/daemonp/visonic2mqtt/internal/visonic"
)

type fakeBinder struct {
	mu        sync.Mutex
	bound     map[string]*alarm.Entity
	published []alarm.State
	unbound   []string
	bindErr   error
}

func newFakeBinder() *fakeBinder {
	return &fakeBinder{bound: make(map[string]*alarm.Entity)}
}

func (b *fakeBinder) Bind(entryID string, entity *alarm.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bindErr != nil {
		return b.bindErr
	}
	b.bound[entryID] = entity
	return nil
}

func (b *fakeBinder) Publish(_ string, entity *alarm.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, entity.State())
}

func (b *fakeBinder) Unbind(entryID string, _ *alarm.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bound, entryID)
	b.unbound = append(b.unbound, entryID)
}

func (b *fakeBinder) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *fakeBinder) lastPublished() alarm.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		return ""
	}
	return b.published[len(b.published)-1]
}

func registryEntry(id string, interval int) config.EntryConfig {
	e := config.NewEntryConfig()
	e.ID = id
	e.Email = "user@example.com"
	e.Password = "secret"
	e.PanelID = "12345"
	e.MasterCode = "1234"
	e.UUID = "uuid-" + id
	e.UpdateInterval = interval
	return e
}

func countCalls(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestSetupEntryBindsEntity(t *testing.T) {
	cli := paneltest.NewClient()
	binder := newFakeBinder()
	r := NewRegistry(cli.Dialer(nil), executor.New(2), binder, log.Nop(), Options{})
	t.Cleanup(r.Close)

	require.NoError(t, r.SetupEntry(context.Background(), registryEntry("a", 3600)))

	entity, ok := r.Entity("a")
	require.True(t, ok)
	require.Same(t, entity, binder.bound["a"])
	require.Equal(t, "Visonic PowerMaster-10 (12345)", entity.UniqueID())
	require.Equal(t, "uuid-a", cli.AppID)

	handler, ok := r.handler("a")
	require.True(t, ok)
	require.NoError(t, handler.Refresh(context.Background()))
	require.Equal(t, alarm.StateDisarmed, binder.lastPublished())

	require.Equal(t, []string{"a"}, r.EntryIDs())
}

func TestSetupEntryNotReady(t *testing.T) {
	cli := paneltest.NewClient()
	cli.PanelLoginErr = errors.New("wrong code")
	binder := newFakeBinder()
	r := NewRegistry(cli.Dialer(nil), executor.New(1), binder, log.Nop(), Options{})

	err := r.SetupEntry(context.Background(), registryEntry("a", 60))
	require.ErrorIs(t, err, ErrNotReady)
	require.ErrorIs(t, err, cli.PanelLoginErr)
	require.Empty(t, r.EntryIDs())
	require.Empty(t, binder.bound)
}

func TestSetupEntryBindFailure(t *testing.T) {
	cli := paneltest.NewClient()
	binder := newFakeBinder()
	binder.bindErr = errors.New("broker down")
	r := NewRegistry(cli.Dialer(nil), executor.New(1), binder, log.Nop(), Options{})

	err := r.SetupEntry(context.Background(), registryEntry("a", 60))
	require.ErrorIs(t, err, binder.bindErr)
	require.NotErrorIs(t, err, ErrNotReady)
	require.Empty(t, r.EntryIDs())
}

func TestSetupEntryTwice(t *testing.T) {
	cli := paneltest.NewClient()
	r := NewRegistry(cli.Dialer(nil), executor.New(1), newFakeBinder(), log.Nop(), Options{})
	t.Cleanup(r.Close)

	require.NoError(t, r.SetupEntry(context.Background(), registryEntry("a", 60)))
	require.ErrorIs(t, r.SetupEntry(context.Background(), registryEntry("a", 60)), ErrAlreadySetUp)
}

func TestEarlyRefreshForLongInterval(t *testing.T) {
	cli := paneltest.NewClient()
	cli.SetState(visonic.StateAway)
	binder := newFakeBinder()
	r := NewRegistry(cli.Dialer(nil), executor.New(1), binder, log.Nop(), Options{
		EarlyRefreshDelay:     10 * time.Millisecond,
		EarlyRefreshThreshold: time.Second,
	})
	t.Cleanup(r.Close)

	require.NoError(t, r.SetupEntry(context.Background(), registryEntry("a", 3600)))

	require.Eventually(t, func() bool {
		return binder.lastPublished() == alarm.StateArmedAway
	}, time.Second, 5*time.Millisecond)

	// Only the early refresh can have run within an hour-long interval.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, countCalls(cli.Calls(), "get_status"))
}

func TestNoEarlyRefreshForShortInterval(t *testing.T) {
	cli := paneltest.NewClient()
	binder := newFakeBinder()
	r := NewRegistry(cli.Dialer(nil), executor.New(1), binder, log.Nop(), Options{
		EarlyRefreshDelay:     10 * time.Millisecond,
		EarlyRefreshThreshold: 2 * time.Hour,
	})
	t.Cleanup(r.Close)

	require.NoError(t, r.SetupEntry(context.Background(), registryEntry("a", 3600)))

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, countCalls(cli.Calls(), "connected"))
	require.Zero(t, binder.publishCount())
}

func TestPeriodicRefresh(t *testing.T) {
	cli := paneltest.NewClient()
	binder := newFakeBinder()
	r := NewRegistry(cli.Dialer(nil), executor.New(1), binder, log.Nop(), Options{})
	t.Cleanup(r.Close)

	require.NoError(t, r.SetupEntry(context.Background(), registryEntry("a", 1)))

	cli.SetState(visonic.StateHome)
	require.Eventually(t, func() bool {
		return binder.lastPublished() == alarm.StateArmedHome
	}, 3*time.Second, 20*time.Millisecond)
}

func TestUnloadEntry(t *testing.T) {
	cli := paneltest.NewClient()
	binder := newFakeBinder()
	r := NewRegistry(cli.Dialer(nil), executor.New(1), binder, log.Nop(), Options{})

	require.NoError(t, r.SetupEntry(context.Background(), registryEntry("a", 60)))
	handler, _ := r.handler("a")

	require.NoError(t, r.UnloadEntry("a"))
	require.Equal(t, []string{"a"}, binder.unbound)
	require.Empty(t, r.EntryIDs())

	_, ok := r.Entity("a")
	require.False(t, ok)

	// A refresh that was already running no longer reaches the binder.
	require.NoError(t, handler.Refresh(context.Background()))
	require.Zero(t, binder.publishCount())

	require.ErrorIs(t, r.UnloadEntry("a"), ErrEntryNotFound)
}

func TestStartRetriesNotReady(t *testing.T) {
	cli := paneltest.NewClient()
	cli.AuthErr = errors.New("service down")
	binder := newFakeBinder()
	r := NewRegistry(cli.Dialer(nil), executor.New(1), binder, log.Nop(), Options{})
	t.Cleanup(r.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := r.Start(ctx, []config.EntryConfig{registryEntry("a", 60)}, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return countCalls(cli.Calls(), "authenticate") >= 2
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, r.EntryIDs())

	cli.SetAuthErr(nil)
	wg.Wait()
	require.Equal(t, []string{"a"}, r.EntryIDs())
}

func TestStartStopsOnCancel(t *testing.T) {
	cli := paneltest.NewClient()
	cli.AuthErr = errors.New("service down")
	r := NewRegistry(cli.Dialer(nil), executor.New(1), newFakeBinder(), log.Nop(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	wg := r.Start(ctx, []config.EntryConfig{registryEntry("a", 60)}, time.Hour)

	require.Eventually(t, func() bool {
		return countCalls(cli.Calls(), "authenticate") == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
	require.Empty(t, r.EntryIDs())
}
