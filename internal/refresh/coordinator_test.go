package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ideaverse/ideaverse-cli/internal/tokenstore"
)

// blockingRefresher returns tok (or err) once release is closed and counts
// calls.
type blockingRefresher struct {
	release chan struct{}
	tok     string
	err     error
	calls   atomic.Int32
	lastRT  atomic.Value
}

func newBlockingRefresher(tok string, err error) *blockingRefresher {
	return &blockingRefresher{release: make(chan struct{}), tok: tok, err: err}
}

func (r *blockingRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	r.calls.Add(1)
	r.lastRT.Store(refreshToken)

	select {
	case <-r.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return r.tok, r.err
}

func newStore(t *testing.T, access, refresh string) *tokenstore.Store {
	t.Helper()

	s := tokenstore.New(tokenstore.NewMemoryBackend(), nil)
	require.NoError(t, s.SetTokens(access, refresh))

	return s
}

// waitForCallers blocks until n callers have started or joined a flight.
func waitForCallers(t *testing.T, c *Coordinator, n int64) {
	t.Helper()

	require.Eventually(t, func() bool {
		st := c.Stats()
		return st.Refreshes+st.Joined == n
	}, 2*time.Second, time.Millisecond)
}

func TestRefresh_ConcurrentCallersShareOneRefresh(t *testing.T) {
	const n = 10

	store := newStore(t, "old", "ref")
	auth := newBlockingRefresher("new", nil)
	c := NewCoordinator(store, auth, nil)

	results := make([]string, n)

	var g errgroup.Group

	for i := range n {
		g.Go(func() error {
			tok, err := c.Refresh(context.Background(), "old")
			results[i] = tok

			return err
		})
	}

	waitForCallers(t, c, n)
	close(auth.release)

	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), auth.calls.Load())
	assert.Equal(t, "ref", auth.lastRT.Load())

	for _, tok := range results {
		assert.Equal(t, "new", tok)
	}

	stored, err := store.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "new", stored)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Refreshes)
	assert.Equal(t, int64(n-1), st.Joined)
	assert.Zero(t, st.Failures)
}

func TestRefresh_FailureClearsTokensForEveryWaiter(t *testing.T) {
	const n = 5

	store := newStore(t, "old", "ref")
	auth := newBlockingRefresher("", errors.New("refresh token revoked"))
	c := NewCoordinator(store, auth, nil)

	errs := make([]error, n)

	var wg sync.WaitGroup

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = c.Refresh(context.Background(), "old")
		}()
	}

	waitForCallers(t, c, n)
	close(auth.release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrRefreshFailed)
	}

	assert.Equal(t, int32(1), auth.calls.Load())

	acc, _ := store.AccessToken()
	ref, _ := store.RefreshToken()
	assert.Empty(t, acc)
	assert.Empty(t, ref)

	// Clearing again is a no-op.
	require.NoError(t, store.Clear())
	assert.Equal(t, int64(1), c.Stats().Failures)
}

func TestRefresh_NoRefreshTokenSkipsNetwork(t *testing.T) {
	store := newStore(t, "old", "")
	auth := newBlockingRefresher("new", nil)
	close(auth.release)

	c := NewCoordinator(store, auth, nil)

	_, err := c.Refresh(context.Background(), "old")
	require.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Zero(t, auth.calls.Load())

	acc, _ := store.AccessToken()
	assert.Empty(t, acc, "stale access token is dropped with the session")
}

func TestRefresh_StaleTokenAlreadyRotated(t *testing.T) {
	store := newStore(t, "rotated", "ref")
	auth := newBlockingRefresher("never", nil)
	c := NewCoordinator(store, auth, nil)

	tok, err := c.Refresh(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "rotated", tok)
	assert.Zero(t, auth.calls.Load())
	assert.Equal(t, int64(1), c.Stats().Reused)
}

func TestRefresh_SequentialRefreshesAfterIdle(t *testing.T) {
	store := newStore(t, "t1", "ref")

	auth := newBlockingRefresher("t2", nil)
	close(auth.release)

	c := NewCoordinator(store, auth, nil)

	tok, err := c.Refresh(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t2", tok)

	// Back to idle: a later rejection of t2 starts a new refresh.
	tok, err = c.Refresh(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, "t2", tok)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestRefresh_CanceledWaiterDoesNotAbortFlight(t *testing.T) {
	store := newStore(t, "old", "ref")
	auth := newBlockingRefresher("new", nil)
	c := NewCoordinator(store, auth, nil)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "old")
		errCh <- err
	}()

	waitForCallers(t, c, 1)
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)

	resCh := make(chan string, 1)
	go func() {
		tok, _ := c.Refresh(context.Background(), "old")
		resCh <- tok
	}()

	waitForCallers(t, c, 2)
	close(auth.release)

	assert.Equal(t, "new", <-resCh)
	assert.Equal(t, int32(1), auth.calls.Load())
}

// sequenceRefresher hands out tokens in order, one per call.
type sequenceRefresher struct {
	mu     sync.Mutex
	tokens []string
	calls  atomic.Int32
}

func (r *sequenceRefresher) Refresh(context.Context, string) (string, error) {
	r.calls.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()

	tok := r.tokens[0]
	r.tokens = r.tokens[1:]

	return tok, nil
}

// publishSignalStore closes published when the first refreshed access token
// is written.
type publishSignalStore struct {
	*tokenstore.Store
	published chan struct{}
	once      sync.Once
}

func (s *publishSignalStore) SetAccessToken(tok string) error {
	err := s.Store.SetAccessToken(tok)
	s.once.Do(func() { close(s.published) })

	return err
}

// A caller that is rejected with the token a flight has just published must
// start a new refresh, even if the finished flight has not yet been torn
// down.
func TestRefresh_RejectedFreshTokenStartsNewFlight(t *testing.T) {
	store := &publishSignalStore{
		Store:     newStore(t, "old", "ref"),
		published: make(chan struct{}),
	}
	auth := &sequenceRefresher{tokens: []string{"new", "newer"}}
	c := NewCoordinator(store, auth, nil)

	var g errgroup.Group

	var first, second string

	g.Go(func() error {
		var err error
		first, err = c.Refresh(context.Background(), "old")

		return err
	})

	g.Go(func() error {
		<-store.published

		var err error
		second, err = c.Refresh(context.Background(), "new")

		return err
	})

	require.NoError(t, g.Wait())

	assert.Equal(t, "new", first)
	assert.Equal(t, "newer", second)
	assert.Equal(t, int32(2), auth.calls.Load())

	st := c.Stats()
	assert.Equal(t, int64(2), st.Refreshes)
	assert.Zero(t, st.Joined)
}
