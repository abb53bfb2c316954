// Package scheduler owns every timer in the engine: one named poller per
// resource type, a debounced queue for push-triggered refresh hints, and the
// single cancellation path used at teardown. Polling is cooperative; stale
// overlapping responses are handled by the Gate, not by aborting requests.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ticket-sync-engine/internal/apiclient"
)

const defaultHintDebounce = 250 * time.Millisecond

// Poller describes one resource's polling behavior. Fetch runs the full
// fetch-and-publish path for the resource; Active gates the cadence on the
// resource's preconditions (for example "a conversation is selected").
type Poller struct {
	Name     string
	Interval time.Duration
	Active   func() bool
	Fetch    func(ctx context.Context) error
}

type pollerState struct {
	poller Poller
	kick   chan struct{}

	mu            sync.Mutex
	hintPending   bool
	debounceTimer *time.Timer
}

type Scheduler struct {
	log           zerolog.Logger
	hintDebounce  time.Duration
	onAuthExpired func()

	mu      sync.Mutex
	pollers map[string]*pollerState
	visible bool
	started bool

	done chan struct{}
	wg   sync.WaitGroup
}

func New(log zerolog.Logger, onAuthExpired func()) *Scheduler {
	return &Scheduler{
		log:           log.With().Str("component", "scheduler").Logger(),
		hintDebounce:  defaultHintDebounce,
		onAuthExpired: onAuthExpired,
		pollers:       make(map[string]*pollerState),
		visible:       true,
		done:          make(chan struct{}),
	}
}

// Register adds a poller. Must be called before Start.
func (s *Scheduler) Register(poller Poller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("scheduler: Register after Start")
	}
	s.pollers[poller.Name] = &pollerState{
		poller: poller,
		kick:   make(chan struct{}, 1),
	}
}

// Start launches one goroutine per registered poller. Each fires once
// immediately so the UI has data before the first tick.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, state := range s.pollers {
		s.wg.Add(1)
		go s.run(state)
	}
}

func (s *Scheduler) run(state *pollerState) {
	defer s.wg.Done()

	ticker := time.NewTicker(state.poller.Interval)
	defer ticker.Stop()

	s.fire(state)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.fire(state)
		case <-state.kick:
			s.fire(state)
			ticker.Reset(state.poller.Interval)
		}
	}
}

// fire runs one silent refresh. Background failures are swallowed except
// the authentication-expired signal, which terminates the session.
func (s *Scheduler) fire(state *pollerState) {
	if !s.Visible() {
		return
	}
	if state.poller.Active != nil && !state.poller.Active() {
		return
	}

	incRefresh()
	if err := state.poller.Fetch(context.Background()); err != nil {
		if apiclient.IsUnauthenticated(err) {
			s.log.Warn().Str("resource", state.poller.Name).Msg("background refresh hit expired session")
			if s.onAuthExpired != nil {
				s.onAuthExpired()
			}
			return
		}
		s.log.Debug().Err(err).Str("resource", state.poller.Name).Msg("silent refresh failed")
	}
}

// Hint requests an out-of-cadence refresh for a resource. Hints arriving
// within the debounce window collapse into a single fetch.
func (s *Scheduler) Hint(name string) {
	s.mu.Lock()
	state, ok := s.pollers[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	incHint()

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.hintPending {
		incHintCoalesced()
		return
	}
	state.hintPending = true
	state.debounceTimer = time.AfterFunc(s.hintDebounce, func() {
		state.mu.Lock()
		state.hintPending = false
		state.debounceTimer = nil
		state.mu.Unlock()

		select {
		case state.kick <- struct{}{}:
		default:
		}
	})
}

func (s *Scheduler) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// SetVisible pauses all polling while the app is hidden; regaining
// visibility fires an immediate refresh for every active resource before
// the normal cadence resumes.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	if s.visible == visible {
		s.mu.Unlock()
		return
	}
	s.visible = visible
	states := make([]*pollerState, 0, len(s.pollers))
	for _, state := range s.pollers {
		states = append(states, state)
	}
	s.mu.Unlock()

	if !visible {
		s.log.Debug().Msg("visibility lost, polling paused")
		return
	}

	s.log.Debug().Msg("visibility regained, refreshing all resources")
	for _, state := range states {
		select {
		case state.kick <- struct{}{}:
		default:
		}
	}
}

// Close stops every poller and cancels pending debounce timers. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	close(s.done)
	states := make([]*pollerState, 0, len(s.pollers))
	for _, state := range s.pollers {
		states = append(states, state)
	}
	s.mu.Unlock()

	for _, state := range states {
		state.mu.Lock()
		if state.debounceTimer != nil {
			state.debounceTimer.Stop()
			state.debounceTimer = nil
		}
		state.mu.Unlock()
	}

	s.wg.Wait()
}
