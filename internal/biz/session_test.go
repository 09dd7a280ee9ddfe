package biz

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	caseErrors "caseprint-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManager_CachesToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, SessionNone, h.session.State())

	token, err := h.session.EnsureToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, SessionActive, h.session.State())

	token, err = h.session.EnsureToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, 1, h.partner.count(testPaths.Login))

	login := h.partner.last(testPaths.Login)
	assert.Empty(t, login.Token)
	assert.Equal(t, "5c96efc95564694eafd1369ef03df24f", login.Sign)
	assert.Equal(t, "caseprint", login.Body["account"])
}

func TestSessionManager_ConcurrentCallersShareLogin(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	var logins int32
	h.partner.handle(testPaths.Login, func(*PartnerRequest) (*PartnerResponse, error) {
		atomic.AddInt32(&logins, 1)
		<-release
		return okResp("tok-shared"), nil
	})

	const callers = 16
	var (
		wg     sync.WaitGroup
		tokens = make([]string, callers)
		errs   = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = h.session.EnsureToken(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&logins) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&logins))
	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, "tok-shared", tokens[i])
	}
}

func TestSessionManager_TokenExpiry(t *testing.T) {
	h := newHarness(t)
	h.session.now = h.clock.now
	ctx := context.Background()

	_, err := h.session.EnsureToken(ctx)
	require.NoError(t, err)

	h.clock.advance(59 * time.Minute)
	_, err = h.session.EnsureToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.partner.count(testPaths.Login))

	h.clock.advance(time.Minute)
	assert.Equal(t, SessionExpired, h.session.State())
	_, err = h.session.EnsureToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.partner.count(testPaths.Login))
}

func TestSessionManager_AuthFailureIsSticky(t *testing.T) {
	h := newHarness(t)
	h.partner.handle(testPaths.Login, func(*PartnerRequest) (*PartnerResponse, error) {
		return &PartnerResponse{Code: 403, Msg: "bad password"}, nil
	})
	ctx := context.Background()

	_, err := h.session.EnsureToken(ctx)
	require.Error(t, err)
	assert.True(t, caseErrors.IsAuthenticationFailed(err))
	assert.Equal(t, SessionFailed, h.session.State())

	_, err = h.session.EnsureToken(ctx)
	assert.True(t, caseErrors.IsAuthenticationFailed(err))
	assert.Equal(t, 1, h.partner.count(testPaths.Login), "rejected credentials are not retried")

	h.partner.handle(testPaths.Login, func(*PartnerRequest) (*PartnerResponse, error) {
		return okResp(map[string]any{"token": "tok-2"}), nil
	})
	h.session.Reset()
	token, err := h.session.EnsureToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
}

func TestSessionManager_RetriesTransientCode(t *testing.T) {
	h := newHarness(t)
	var n int32
	h.partner.handle(testPaths.Login, func(*PartnerRequest) (*PartnerResponse, error) {
		if atomic.AddInt32(&n, 1) < 3 {
			return &PartnerResponse{Code: 503, Msg: "busy"}, nil
		}
		return okResp("tok-3"), nil
	})

	token, err := h.session.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-3", token)
	assert.Equal(t, 3, h.partner.count(testPaths.Login))
}

func TestSessionManager_TransportFailureIsNotSticky(t *testing.T) {
	h := newHarness(t)
	h.partner.handle(testPaths.Login, func(*PartnerRequest) (*PartnerResponse, error) {
		return nil, caseErrors.Transport("", context.DeadlineExceeded)
	})

	_, err := h.session.EnsureToken(context.Background())
	require.Error(t, err)
	assert.True(t, caseErrors.IsTransport(err))
	assert.Equal(t, 3, h.partner.count(testPaths.Login))
	assert.Equal(t, SessionNone, h.session.State())
}

func TestSessionManager_EmptyToken(t *testing.T) {
	h := newHarness(t)
	h.partner.handle(testPaths.Login, func(*PartnerRequest) (*PartnerResponse, error) {
		return okResp(""), nil
	})

	_, err := h.session.EnsureToken(context.Background())
	require.Error(t, err)
	assert.True(t, caseErrors.IsTransport(err))
}

func TestSessionManager_Invalidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	token, err := h.session.EnsureToken(ctx)
	require.NoError(t, err)

	// 旧 token 的 401 不影响当前会话
	h.session.Invalidate("tok-old")
	assert.Equal(t, SessionActive, h.session.State())

	h.session.Invalidate(token)
	assert.Equal(t, SessionExpired, h.session.State())

	_, err = h.session.EnsureToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.partner.count(testPaths.Login))
}

func TestSessionManager_CallerCancellation(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)
	h.partner.handle(testPaths.Login, func(*PartnerRequest) (*PartnerResponse, error) {
		<-release
		return okResp("tok-late"), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.session.EnsureToken(ctx)
	require.Error(t, err)
	assert.True(t, caseErrors.IsTransport(err))
}
