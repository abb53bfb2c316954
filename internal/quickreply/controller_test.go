package quickreply

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-sync-engine/internal/apiclient"
	"ticket-sync-engine/internal/model"
)

type memoryStore struct {
	mu      sync.Mutex
	replies map[int64]model.CannedReply
	closed  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{replies: make(map[int64]model.CannedReply)}
}

func (m *memoryStore) List() ([]model.CannedReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CannedReply, 0, len(m.replies))
	for _, reply := range m.replies {
		out = append(out, reply)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) Put(reply model.CannedReply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[reply.ID] = reply
	return nil
}

func (m *memoryStore) Delete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.replies, id)
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type fakeRemote struct {
	mu          sync.Mutex
	calls       int
	unsupported bool
	replies     []model.CannedReply
}

func (f *fakeRemote) featureErr() error {
	return apiclient.NewError(apiclient.ErrorCodeFeatureNotFound, "canned replies are not supported by this server", nil)
}

func (f *fakeRemote) ListCannedReplies(ctx context.Context) ([]model.CannedReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.unsupported {
		return nil, f.featureErr()
	}
	return f.replies, nil
}

func (f *fakeRemote) CreateCannedReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.unsupported {
		return model.CannedReply{}, f.featureErr()
	}
	reply.ID = int64(len(f.replies) + 1)
	f.replies = append(f.replies, reply)
	return reply, nil
}

func (f *fakeRemote) UpdateCannedReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.unsupported {
		return model.CannedReply{}, f.featureErr()
	}
	return reply, nil
}

func (f *fakeRemote) DeleteCannedReply(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.unsupported {
		return f.featureErr()
	}
	return nil
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestController(remote *fakeRemote, store *memoryStore, onDegrade func()) *Controller {
	return NewController(remote, func() (Store, error) { return store, nil }, "user-1", onDegrade, zerolog.Nop())
}

func TestFeatureNotFoundSwitchesModeOnce(t *testing.T) {
	remote := &fakeRemote{unsupported: true}
	store := newMemoryStore()

	var noticeMu sync.Mutex
	notices := 0
	done := make(chan struct{}, 1)
	controller := newTestController(remote, store, func() {
		noticeMu.Lock()
		notices++
		noticeMu.Unlock()
		done <- struct{}{}
	})

	ctx := context.Background()

	_, err := controller.List(ctx)
	require.NoError(t, err)
	require.Equal(t, ModeLocal, controller.Mode())
	<-done

	callsAfterDegrade := remote.callCount()

	// Three sequential writes, all local, zero further remote calls.
	created, err := controller.Create(ctx, model.CannedReply{Title: "One", Content: "first"})
	require.NoError(t, err)

	created.Content = "first, edited"
	_, err = controller.Update(ctx, created)
	require.NoError(t, err)

	require.NoError(t, controller.Delete(ctx, created.ID))

	assert.Equal(t, callsAfterDegrade, remote.callCount(), "remote must never be retried after the degrade")

	noticeMu.Lock()
	assert.Equal(t, 1, notices, "degrade notice fires exactly once")
	noticeMu.Unlock()
}

func TestLocalIDsAreMonotonicAndCollisionFree(t *testing.T) {
	// The remote served replies with ids up to 7 before the feature
	// disappeared mid-session.
	remote := &fakeRemote{replies: []model.CannedReply{
		{ID: 3, Title: "a", Content: "a"},
		{ID: 7, Title: "b", Content: "b"},
	}}
	store := newMemoryStore()
	controller := newTestController(remote, store, nil)
	ctx := context.Background()

	_, err := controller.List(ctx)
	require.NoError(t, err)

	remote.mu.Lock()
	remote.unsupported = true
	remote.mu.Unlock()

	first, err := controller.Create(ctx, model.CannedReply{Title: "c", Content: "c"})
	require.NoError(t, err)
	second, err := controller.Create(ctx, model.CannedReply{Title: "d", Content: "d"})
	require.NoError(t, err)

	assert.Equal(t, int64(8), first.ID, "local ids must not collide with ids already seen")
	assert.Equal(t, int64(9), second.ID)
	assert.Greater(t, second.ID, first.ID)
}

func TestLocalValidationMirrorsRemote(t *testing.T) {
	remote := &fakeRemote{unsupported: true}
	store := newMemoryStore()
	controller := newTestController(remote, store, nil)
	ctx := context.Background()

	_, err := controller.Create(ctx, model.CannedReply{Content: "no title"})
	var apiErr *apiclient.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiclient.ErrorCodeValidation, apiErr.Code)

	_, err = controller.Create(ctx, model.CannedReply{Title: "no content"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiclient.ErrorCodeValidation, apiErr.Code)

	_, err = controller.Create(ctx, model.CannedReply{Title: "a", Content: "a", Shortcut: "/oi"})
	require.NoError(t, err)

	_, err = controller.Create(ctx, model.CannedReply{Title: "b", Content: "b", Shortcut: "/OI"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiclient.ErrorCodeConflict, apiErr.Code, "shortcut uniqueness is case-insensitive")
}

// End-to-end walkthrough: list() answers "not found", create(Saudação) lands in
// the local store and a following list() returns it without network calls.
func TestScenarioSaudacao(t *testing.T) {
	remote := &fakeRemote{unsupported: true}
	store := newMemoryStore()
	controller := newTestController(remote, store, nil)
	ctx := context.Background()

	replies, err := controller.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, replies)
	require.Equal(t, ModeLocal, controller.Mode())

	callsBefore := remote.callCount()

	created, err := controller.Create(ctx, model.CannedReply{Title: "Saudação", Content: "Olá!"})
	require.NoError(t, err)
	assert.Equal(t, "Saudação", created.Title)

	replies, err = controller.List(ctx)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Olá!", replies[0].Content)

	assert.Equal(t, callsBefore, remote.callCount(), "local list must not touch the network")
}

func TestRemoteModeStaysRemoteWhileSupported(t *testing.T) {
	remote := &fakeRemote{}
	store := newMemoryStore()
	controller := newTestController(remote, store, nil)
	ctx := context.Background()

	created, err := controller.Create(ctx, model.CannedReply{Title: "x", Content: "y"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, ModeRemote, controller.Mode())

	// Ordinary failures do not trigger the degrade.
	replies, err := controller.List(ctx)
	require.NoError(t, err)
	assert.Len(t, replies, 1)
	assert.Equal(t, ModeRemote, controller.Mode())
}

func TestCloseReleasesLocalStore(t *testing.T) {
	remote := &fakeRemote{unsupported: true}
	store := newMemoryStore()
	controller := newTestController(remote, store, nil)

	_, err := controller.List(context.Background())
	require.NoError(t, err)

	require.NoError(t, controller.Close())
	assert.True(t, store.closed)
}
