package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/notification"
	"faculty-status-backend/internal/realtime"
)

type sink struct {
	mu     sync.Mutex
	events []notification.Event
}

func (s *sink) Notify(_ context.Context, ev notification.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *sink) snapshot() []notification.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Event(nil), s.events...)
}

func newPipeline(t *testing.T) (*realtime.MemoryStore, *facultycache.Cache) {
	t.Helper()
	store := realtime.NewMemoryStore()
	fc := facultycache.New()
	require.NoError(t, fc.Start(store))
	t.Cleanup(func() {
		fc.Close()
		store.Close()
	})
	select {
	case <-fc.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("cache never became ready")
	}
	return store, fc
}

func setStatus(t *testing.T, store realtime.Store, cabinID string, status model.Status) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), realtime.Join(model.PathFaculty, cabinID), model.FacultyStatus{Status: status, UpdatedAt: time.Now().UTC().Format(time.RFC3339)}))
}

func waitCount(t *testing.T, store realtime.Store, cabinID string) int {
	t.Helper()
	snap, err := store.Get(context.Background(), realtime.Join(model.PathSubsCount, cabinID))
	require.NoError(t, err)
	var n int
	require.NoError(t, snap.Decode(&n))
	return n
}

func TestSession_NotifiesOnceWhenSubscribedCabinBecomesAvailable(t *testing.T) {
	store, fc := newPipeline(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "facultyConfig/C1", "Smith"))
	setStatus(t, store, "C1", model.StatusBusy)
	assert.Eventually(t, func() bool { return fc.View().Statuses["C1"].Status == model.StatusBusy }, 2*time.Second, 10*time.Millisecond)

	out := &sink{}
	s := NewSession("s1", fc, store, out, nil)
	defer s.Close()

	require.True(t, s.Subscribe(ctx, "C1"))
	assert.Eventually(t, func() bool { return fc.View().WaitCounts["C1"] == 1 }, 2*time.Second, 10*time.Millisecond)

	setStatus(t, store, "C1", model.StatusAvailable)

	assert.Eventually(t, func() bool { return len(out.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := out.snapshot()[0]
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "Smith is Available!", ev.Title)
	assert.Empty(t, s.Pending())
	assert.Eventually(t, func() bool { return waitCount(t, store, "C1") == 0 }, 2*time.Second, 10*time.Millisecond)

	// Staying available is not a new edge.
	setStatus(t, store, "C1", model.StatusAvailable)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, out.snapshot(), 1)
}

func TestSession_AlreadyAvailableCabinIsNotATransition(t *testing.T) {
	store, fc := newPipeline(t)
	ctx := context.Background()
	setStatus(t, store, "C1", model.StatusAvailable)
	assert.Eventually(t, func() bool { return len(fc.View().Statuses) == 1 }, 2*time.Second, 10*time.Millisecond)

	out := &sink{}
	s := NewSession("s1", fc, store, out, nil)
	defer s.Close()

	require.True(t, s.Subscribe(ctx, "C1"))
	require.NoError(t, store.Set(ctx, "facultyConfig/C1", "Smith"))
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, out.snapshot())
	assert.True(t, s.IsSubscribed("C1"))
}

func TestSession_CloseStopsNotifications(t *testing.T) {
	store, fc := newPipeline(t)
	ctx := context.Background()
	setStatus(t, store, "C1", model.StatusBusy)

	out := &sink{}
	views := make(chan facultycache.View, 8)
	s := NewSession("s1", fc, store, out, func(_ *Session, v facultycache.View) { views <- v })
	require.True(t, s.Subscribe(ctx, "C1"))
	s.Close()
	s.Close()
	time.Sleep(20 * time.Millisecond)
	for len(views) > 0 {
		<-views
	}

	setStatus(t, store, "C1", model.StatusAvailable)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, out.snapshot())
	assert.Empty(t, s.Pending())
	assert.Empty(t, views)
}

func TestSession_CloseWaitsForChangeInFlight(t *testing.T) {
	store, fc := newPipeline(t)
	setStatus(t, store, "C1", model.StatusBusy)
	assert.Eventually(t, func() bool { return fc.View().Statuses["C1"].Status == model.StatusBusy }, 2*time.Second, 10*time.Millisecond)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var views atomic.Int32
	s := NewSession("s1", fc, store, nil, func(*Session, facultycache.View) {
		if views.Add(1) == 1 {
			entered <- struct{}{}
			<-release
		}
	})

	setStatus(t, store, "C1", model.StatusAvailable)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("change never reached the session")
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a change was being handled")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned")
	}
	setStatus(t, store, "C1", model.StatusBusy)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), views.Load())
}

func TestSession_FacultyIsCopied(t *testing.T) {
	store, fc := newPipeline(t)
	s := NewSession("s1", fc, store, nil, nil)
	defer s.Close()

	list := []model.Faculty{{CabinID: "SJT-101", Name: "Ada"}}
	s.SetFaculty(list)
	list[0].Name = "changed"

	assert.Equal(t, "Ada", s.Faculty()[0].Name)
}
