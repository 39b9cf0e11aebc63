package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/events"
)

// recordingSink captures shipped events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
	err    error
	closed bool
}

func (s *recordingSink) Ship(_ context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

type panickySink struct{}

func (panickySink) Ship(context.Context, *models.Event) error { panic("sink exploded") }
func (panickySink) Close() error                              { return nil }

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_StampsIDAndTime(t *testing.T) {
	ev := events.New("acct-1", models.EventVPCCreated, "vpc", "vpc-1", "created")
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())
	assert.Equal(t, "acct-1", ev.AccountID)
	assert.Equal(t, "vpc", ev.ResourceType)

	other := events.New("acct-1", models.EventVPCCreated, "vpc", "vpc-1", "created")
	assert.NotEqual(t, ev.ID, other.ID)
}

// ---------------------------------------------------------------------------
// Bus
// ---------------------------------------------------------------------------

func TestBus_DeliversInOrderToAllSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	bus := events.NewBus(events.BusOptions{}, a, b)

	order := []string{models.EventInstanceLaunched, models.EventInstanceRunning, models.EventInstanceDeleted}
	for _, typ := range order {
		bus.Publish(events.New("acct", typ, "instance", "i-1", ""))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, order, a.types())
	assert.Equal(t, order, b.types())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestBus_SinkFailureDoesNotStopOthers(t *testing.T) {
	broken := &recordingSink{err: errors.New("down")}
	healthy := &recordingSink{}
	bus := events.NewBus(events.BusOptions{}, broken, panickySink{}, healthy)

	bus.Publish(events.New("acct", models.EventVPCCreated, "vpc", "vpc-1", ""))
	bus.Publish(events.New("acct", models.EventVPCDeleted, "vpc", "vpc-1", ""))
	require.NoError(t, bus.Close())

	assert.Len(t, healthy.types(), 2)
}

func TestBus_PublishAfterCloseIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	bus := events.NewBus(events.BusOptions{}, sink)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "second Close must be a no-op")

	assert.NotPanics(t, func() {
		bus.Publish(events.New("acct", models.EventVPCCreated, "vpc", "vpc-1", ""))
		bus.Publish(nil)
	})
	assert.Empty(t, sink.types())
}

func TestBus_ConcurrentPublish(t *testing.T) {
	sink := &recordingSink{}
	bus := events.NewBus(events.BusOptions{QueueSize: 1000, ShipTimeout: time.Second}, sink)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				bus.Publish(events.New("acct", models.EventInstanceLaunched, "instance", "i", ""))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, bus.Close())
	assert.Len(t, sink.types(), 200)
}

func TestDiscard(t *testing.T) {
	var p events.Publisher = events.Discard{}
	assert.NotPanics(t, func() { p.Publish(events.New("a", "t", "r", "id", "")) })
}

// ---------------------------------------------------------------------------
// Feed
// ---------------------------------------------------------------------------

func TestFeed_RecentNewestFirst(t *testing.T) {
	feed := events.NewFeed(3)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, feed.Ship(ctx, &models.Event{ID: id, AccountID: "acct"}))
	}

	got := feed.Recent("acct", 0)
	require.Len(t, got, 3, "ring keeps only the last 3")
	assert.Equal(t, "5", got[0].ID)
	assert.Equal(t, "4", got[1].ID)
	assert.Equal(t, "3", got[2].ID)

	limited := feed.Recent("acct", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, "5", limited[0].ID)
}

func TestFeed_PartialRing(t *testing.T) {
	feed := events.NewFeed(10)
	ctx := context.Background()
	require.NoError(t, feed.Ship(ctx, &models.Event{ID: "a", AccountID: "acct"}))
	require.NoError(t, feed.Ship(ctx, &models.Event{ID: "b", AccountID: "acct"}))

	got := feed.Recent("acct", 50)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestFeed_AccountsAreIsolated(t *testing.T) {
	feed := events.NewFeed(10)
	ctx := context.Background()
	require.NoError(t, feed.Ship(ctx, &models.Event{ID: "x", AccountID: "alice"}))

	assert.Len(t, feed.Recent("alice", 10), 1)
	assert.Empty(t, feed.Recent("bob", 10))
	assert.NotNil(t, feed.Recent("bob", 10))
}

// ---------------------------------------------------------------------------
// RepositorySink / LogSink
// ---------------------------------------------------------------------------

type fakeStore struct{ got []*models.Event }

func (f *fakeStore) CreateEvent(_ context.Context, ev *models.Event) error {
	f.got = append(f.got, ev)
	return nil
}

func TestRepositorySink(t *testing.T) {
	store := &fakeStore{}
	sink := events.NewRepositorySink(store)
	ev := events.New("acct", models.EventSubnetCreated, "subnet", "subnet-1", "")
	require.NoError(t, sink.Ship(context.Background(), ev))
	require.Len(t, store.got, 1)
	assert.Equal(t, ev.ID, store.got[0].ID)
	assert.NoError(t, sink.Close())
}

func TestLogSink(t *testing.T) {
	sink := events.NewLogSink(nil)
	assert.NoError(t, sink.Ship(context.Background(), events.New("acct", "t", "r", "id", "m")))
	assert.NoError(t, sink.Close())
}
