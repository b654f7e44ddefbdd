package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/listing"
)

type fakeSource struct {
	name       string
	configured bool
	listings   []listing.RawListing
	err        error
	panics     bool
	block      chan struct{}
}

func (f *fakeSource) Name() string       { return f.name }
func (f *fakeSource) IsConfigured() bool { return f.configured }

func (f *fakeSource) FetchListings(ctx context.Context) ([]listing.RawListing, error) {
	if f.panics {
		panic("boom")
	}
	if f.block != nil {
		<-f.block
	}
	return f.listings, f.err
}

func fakeFactory(src *fakeSource) listing.Factory {
	return func() (listing.Source, error) { return src, nil }
}

func makeListings(venue string, n int) []listing.RawListing {
	out := make([]listing.RawListing, n)
	for i := range out {
		out[i] = listing.RawListing{
			ExternalID: fmt.Sprintf("%s-%d", venue, i),
			Venue:      venue,
			Title:      "Charizard",
			Price:      50,
		}
	}
	return out
}

func TestRegisterValidation(t *testing.T) {
	s := New(nil, nil)

	assert.Error(t, s.Register(Task{Factory: fakeFactory(&fakeSource{})}))
	assert.Error(t, s.Register(Task{Name: "ebay"}))
	assert.NoError(t, s.Register(Task{
		Name:    "ebay",
		Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "ebay", configured: true}),
	}))
}

func TestRegisterFloorsInterval(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Register(Task{
		Name:     "ebay",
		Enabled:  true,
		Interval: time.Second,
		Factory:  fakeFactory(&fakeSource{name: "ebay", configured: true}),
	}))

	assert.Equal(t, 30, s.Stats().Tasks["ebay"].IntervalSec)

	s.SetInterval("ebay", 5)
	assert.Equal(t, 30, s.Stats().Tasks["ebay"].IntervalSec)

	s.SetInterval("ebay", 120)
	assert.Equal(t, 120, s.Stats().Tasks["ebay"].IntervalSec)
}

func TestTaskDue(t *testing.T) {
	now := time.Now().UTC()

	neverRun := Task{Interval: time.Minute}
	assert.True(t, neverRun.due(now))

	recent := Task{Interval: time.Minute, lastRun: now.Add(-59 * time.Second)}
	assert.False(t, recent.due(now))

	stale := Task{Interval: time.Minute, lastRun: now.Add(-61 * time.Second)}
	assert.True(t, stale.due(now))
}

func TestRunDueTasksAggregatesListings(t *testing.T) {
	var mu sync.Mutex
	var received []listing.RawListing

	handler := func(ctx context.Context, listings []listing.RawListing) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, listings...)
		return nil
	}

	s := New(handler, nil)
	require.NoError(t, s.Register(Task{
		Name: "ebay", Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "ebay", configured: true, listings: makeListings("ebay", 3)}),
	}))
	require.NoError(t, s.Register(Task{
		Name: "vinted", Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "vinted", configured: true, listings: makeListings("vinted", 2)}),
	}))

	results := s.RunDueTasks(context.Background())
	require.Len(t, results, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 5)

	snap := s.Stats()
	assert.Equal(t, 1, snap.TotalTicks)
	assert.Equal(t, 5, snap.TotalListings)
	assert.Equal(t, 0, snap.TotalErrors)
}

func TestRunDueTasksFailureIsolation(t *testing.T) {
	var received []listing.RawListing
	handler := func(ctx context.Context, listings []listing.RawListing) error {
		received = append(received, listings...)
		return nil
	}

	s := New(handler, nil)
	require.NoError(t, s.Register(Task{
		Name: "good", Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "good", configured: true, listings: makeListings("good", 2)}),
	}))
	require.NoError(t, s.Register(Task{
		Name: "bad", Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "bad", configured: true, err: fmt.Errorf("network down")}),
	}))
	require.NoError(t, s.Register(Task{
		Name: "panicky", Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "panicky", configured: true, panics: true}),
	}))

	results := s.RunDueTasks(context.Background())
	require.Len(t, results, 3)

	assert.Len(t, received, 2)
	assert.Equal(t, 2, s.Stats().TotalErrors)
}

func TestNotConfiguredIsNotAnError(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Register(Task{
		Name: "ebay", Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "ebay", configured: false}),
	}))

	results := s.RunDueTasks(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, listing.ErrNotConfigured, results[0].Error)
	assert.Equal(t, 0, s.Stats().TotalErrors)
}

func TestDisabledTaskSkipped(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Register(Task{
		Name: "ebay", Enabled: false,
		Factory: fakeFactory(&fakeSource{name: "ebay", configured: true, listings: makeListings("ebay", 1)}),
	}))

	assert.Nil(t, s.RunDueTasks(context.Background()))

	s.Enable("ebay")
	assert.Len(t, s.RunDueTasks(context.Background()), 1)

	s.Disable("ebay")
	// Interval has not elapsed anyway, but disabled wins regardless.
	assert.Nil(t, s.RunDueTasks(context.Background()))
}

func TestIntervalGatesSecondRun(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Register(Task{
		Name: "ebay", Enabled: true, Interval: time.Minute,
		Factory: fakeFactory(&fakeSource{name: "ebay", configured: true, listings: makeListings("ebay", 1)}),
	}))

	require.Len(t, s.RunDueTasks(context.Background()), 1)
	assert.Nil(t, s.RunDueTasks(context.Background()))

	// RunAllOnce ignores intervals.
	assert.Len(t, s.RunAllOnce(context.Background()), 1)
}

func TestInFlightTaskNotOverlapped(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{name: "slow", configured: true, block: block}

	s := New(nil, nil)
	require.NoError(t, s.Register(Task{Name: "slow", Enabled: true, Factory: fakeFactory(src)}))

	done := make(chan struct{})
	go func() {
		s.RunDueTasks(context.Background())
		close(done)
	}()

	// Wait until the first run is in flight, then confirm a second tick
	// skips the task instead of starting it again.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.tasks["slow"].inFlight
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, s.RunDueTasks(context.Background()))

	close(block)
	<-done
}

func TestHandlerErrorIsCounted(t *testing.T) {
	handler := func(ctx context.Context, listings []listing.RawListing) error {
		return fmt.Errorf("storage offline")
	}

	s := New(handler, nil)
	require.NoError(t, s.Register(Task{
		Name: "ebay", Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "ebay", configured: true, listings: makeListings("ebay", 1)}),
	}))

	s.RunDueTasks(context.Background())
	assert.Equal(t, 1, s.Stats().TotalErrors)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	handler := func(ctx context.Context, listings []listing.RawListing) error {
		panic("handler bug")
	}

	s := New(handler, nil)
	require.NoError(t, s.Register(Task{
		Name: "ebay", Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "ebay", configured: true, listings: makeListings("ebay", 1)}),
	}))

	assert.NotPanics(t, func() { s.RunDueTasks(context.Background()) })
	assert.Equal(t, 1, s.Stats().TotalErrors)
}

func TestStartAndStop(t *testing.T) {
	s := New(nil, nil)
	require.NoError(t, s.Register(Task{
		Name: "ebay", Enabled: true,
		Factory: fakeFactory(&fakeSource{name: "ebay", configured: true, listings: makeListings("ebay", 1)}),
	}))

	done := make(chan struct{})
	go func() {
		s.Start(context.Background(), 1)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return s.Stats().TotalTicks >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Stats().Running)

	s.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.Stats().Running)

	// Stop is idempotent.
	assert.NotPanics(t, s.Stop)
}
