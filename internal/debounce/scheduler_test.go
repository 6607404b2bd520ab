package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

type recorder struct {
	mu    sync.Mutex
	fired []string
	at    []time.Time
	ch    chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 64)}
}

func (r *recorder) deliver(name string) {
	r.mu.Lock()
	r.fired = append(r.fired, name)
	r.at = append(r.at, time.Now())
	r.mu.Unlock()
	r.ch <- name
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func TestBurstCoalescesToOneSignal(t *testing.T) {
	rec := newRecorder()
	s := New(200*time.Millisecond, rec.deliver, logger.NewNop())

	var last time.Time
	for i := 0; i < 5; i++ {
		s.OnChange("svc-a")
		last = time.Now()
		time.Sleep(30 * time.Millisecond)
	}

	select {
	case name := <-rec.ch:
		assert.Equal(t, "svc-a", name)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	// Nothing else may arrive.
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, 1, rec.count())

	rec.mu.Lock()
	firedAt := rec.at[0]
	rec.mu.Unlock()
	assert.GreaterOrEqual(t, firedAt.Sub(last), 200*time.Millisecond,
		"signal must not fire earlier than the window after the last change")
	assert.Equal(t, 0, s.Pending())
}

func TestOnChangeReportsCoalescing(t *testing.T) {
	s := New(time.Hour, func(string) {}, logger.NewNop())
	defer s.Stop()

	assert.False(t, s.OnChange("svc-a"), "first change arms a fresh timer")
	assert.True(t, s.OnChange("svc-a"), "second change replaces the armed timer")
	assert.Equal(t, 1, s.Pending())
}

func TestCancelPreventsDelivery(t *testing.T) {
	rec := newRecorder()
	s := New(100*time.Millisecond, rec.deliver, logger.NewNop())

	s.OnChange("svc-a")
	require.True(t, s.OnCancel("svc-a"))
	assert.False(t, s.OnCancel("svc-a"), "second cancel finds nothing")

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestCancelAfterFiringReturnsFalse(t *testing.T) {
	rec := newRecorder()
	s := New(10*time.Millisecond, rec.deliver, logger.NewNop())

	s.OnChange("svc-a")
	<-rec.ch
	assert.False(t, s.OnCancel("svc-a"))
}

func TestServicesAreIndependent(t *testing.T) {
	rec := newRecorder()
	s := New(50*time.Millisecond, rec.deliver, logger.NewNop())

	s.OnChange("svc-a")
	s.OnChange("svc-b")
	s.OnCancel("svc-a")

	select {
	case name := <-rec.ch:
		assert.Equal(t, "svc-b", name)
	case <-time.After(time.Second):
		t.Fatal("svc-b never fired")
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestZeroWindowBatchCoalesces(t *testing.T) {
	rec := newRecorder()
	s := New(0, rec.deliver, logger.NewNop())

	coalesced := s.OnChangeBatch([]string{"svc-a", "svc-a", "svc-b", "svc-a"})
	assert.Equal(t, 2, coalesced)

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-rec.ch:
			got[name]++
		case <-time.After(time.Second):
			t.Fatal("zero-window timer never fired")
		}
	}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, map[string]int{"svc-a": 1, "svc-b": 1}, got)
	assert.Equal(t, 2, rec.count(), "changes of one batch must coalesce")
}

func TestBatchResetsArmedTimers(t *testing.T) {
	rec := newRecorder()
	s := New(150*time.Millisecond, rec.deliver, logger.NewNop())

	s.OnChange("svc-a")
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	s.OnChangeBatch([]string{"svc-a"})

	<-rec.ch
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestStopCancelsAndRejects(t *testing.T) {
	rec := newRecorder()
	s := New(50*time.Millisecond, rec.deliver, logger.NewNop())

	s.OnChange("svc-a")
	s.OnChange("svc-b")
	s.Stop()
	assert.False(t, s.OnChange("svc-c"))
	assert.False(t, s.Armed("svc-c"))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, s.Pending())
}

func TestNegativeWindowIsZero(t *testing.T) {
	s := New(-time.Second, func(string) {}, logger.NewNop())
	assert.Equal(t, time.Duration(0), s.Window())
}
