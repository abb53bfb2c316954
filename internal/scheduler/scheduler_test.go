package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ticket-sync-engine/internal/apiclient"
)

func TestGateDiscardsSupersededResponse(t *testing.T) {
	gate := NewGate()
	var published string

	// Request A issued, then request B for the same key.
	seqA := gate.Issue("messages:42")
	seqB := gate.Issue("messages:42")

	// B resolves first and is applied.
	if ok := gate.Apply("messages:42", seqB, func() { published = "B" }); !ok {
		t.Fatal("latest response must be applied")
	}

	// A's late resolution is discarded.
	if ok := gate.Apply("messages:42", seqA, func() { published = "A" }); ok {
		t.Fatal("superseded response must be discarded")
	}

	if published != "B" {
		t.Fatalf("published state should reflect B, got %q", published)
	}
}

func TestGateKeysAreIndependent(t *testing.T) {
	gate := NewGate()

	seq42 := gate.Issue("messages:42")
	gate.Issue("messages:43")

	applied := gate.Apply("messages:42", seq42, func() {})
	if !applied {
		t.Fatal("a newer request for another key must not invalidate this one")
	}
}

func TestHintsAreDebouncedIntoOneFetch(t *testing.T) {
	var fetches int32
	s := New(zerolog.Nop(), nil)
	s.hintDebounce = 50 * time.Millisecond
	s.Register(Poller{
		Name:     "conversations",
		Interval: time.Hour,
		Fetch: func(ctx context.Context) error {
			atomic.AddInt32(&fetches, 1)
			return nil
		},
	})
	s.Start()
	defer s.Close()

	// Wait out the startup fetch.
	waitFor(t, func() bool { return atomic.LoadInt32(&fetches) == 1 })

	s.Hint("conversations")
	s.Hint("conversations")
	s.Hint("conversations")

	waitFor(t, func() bool { return atomic.LoadInt32(&fetches) == 2 })
	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&fetches); got != 2 {
		t.Fatalf("three hints in one debounce window must coalesce into one fetch, got %d total fetches", got)
	}
}

func TestVisibilityPausesAndRefreshesOnRegain(t *testing.T) {
	var fetches int32
	s := New(zerolog.Nop(), nil)
	s.Register(Poller{
		Name:     "conversations",
		Interval: 40 * time.Millisecond,
		Fetch: func(ctx context.Context) error {
			atomic.AddInt32(&fetches, 1)
			return nil
		},
	})
	s.Start()
	defer s.Close()

	waitFor(t, func() bool { return atomic.LoadInt32(&fetches) >= 1 })

	s.SetVisible(false)
	paused := atomic.LoadInt32(&fetches)
	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt32(&fetches); got > paused+1 {
		t.Fatalf("polling must pause while hidden, fetches went %d -> %d", paused, got)
	}

	before := atomic.LoadInt32(&fetches)
	s.SetVisible(true)
	waitFor(t, func() bool { return atomic.LoadInt32(&fetches) > before })
}

func TestInactivePollerSkipsFetch(t *testing.T) {
	var fetches int32
	var active atomic.Bool

	s := New(zerolog.Nop(), nil)
	s.Register(Poller{
		Name:     "messages",
		Interval: 30 * time.Millisecond,
		Active:   func() bool { return active.Load() },
		Fetch: func(ctx context.Context) error {
			atomic.AddInt32(&fetches, 1)
			return nil
		},
	})
	s.Start()
	defer s.Close()

	time.Sleep(120 * time.Millisecond)
	if got := atomic.LoadInt32(&fetches); got != 0 {
		t.Fatalf("poller with unmet preconditions must not fetch, got %d", got)
	}

	active.Store(true)
	waitFor(t, func() bool { return atomic.LoadInt32(&fetches) >= 1 })
}

func TestAuthExpiredSignalTerminatesSession(t *testing.T) {
	var mu sync.Mutex
	expired := 0

	s := New(zerolog.Nop(), func() {
		mu.Lock()
		expired++
		mu.Unlock()
	})
	s.Register(Poller{
		Name:     "conversations",
		Interval: time.Hour,
		Fetch: func(ctx context.Context) error {
			return apiclient.NewError(apiclient.ErrorCodeUnauthorized, "token expired", nil)
		},
	})
	s.Start()
	defer s.Close()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return expired >= 1
	})
}

func TestSilentFailureIsSwallowed(t *testing.T) {
	var fetches int32
	s := New(zerolog.Nop(), func() {
		t.Error("transient failures must not kill the session")
	})
	s.Register(Poller{
		Name:     "conversations",
		Interval: 30 * time.Millisecond,
		Fetch: func(ctx context.Context) error {
			atomic.AddInt32(&fetches, 1)
			return apiclient.NewError(apiclient.ErrorCodeTimeout, "request timed out", nil)
		},
	})
	s.Start()
	defer s.Close()

	// Failures do not stop the cadence; the next poll retries implicitly.
	waitFor(t, func() bool { return atomic.LoadInt32(&fetches) >= 3 })
}

func TestCloseStopsPollersAndIsIdempotent(t *testing.T) {
	var fetches int32
	s := New(zerolog.Nop(), nil)
	s.Register(Poller{
		Name:     "conversations",
		Interval: 20 * time.Millisecond,
		Fetch: func(ctx context.Context) error {
			atomic.AddInt32(&fetches, 1)
			return nil
		},
	})
	s.Start()

	waitFor(t, func() bool { return atomic.LoadInt32(&fetches) >= 1 })

	s.Close()
	s.Close()

	stopped := atomic.LoadInt32(&fetches)
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&fetches); got != stopped {
		t.Fatalf("pollers must stop after Close, fetches went %d -> %d", stopped, got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
