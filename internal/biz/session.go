package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"caseprint-service/internal/constants"
	caseErrors "caseprint-service/internal/errors"
	"caseprint-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

// SessionState 会话状态
type SessionState int

const (
	SessionNone SessionState = iota
	SessionAuthenticating
	SessionActive
	SessionExpired
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionNone:
		return "NoSession"
	case SessionAuthenticating:
		return "Authenticating"
	case SessionActive:
		return "Active"
	case SessionExpired:
		return "Expired"
	case SessionFailed:
		return "Failed"
	}
	return "Invalid"
}

// AuthSession 合作方登录会话
type AuthSession struct {
	Token    string
	IssuedAt time.Time
	TTL      time.Duration
}

// Expired 已使用时长达到 TTL 即视为过期
func (s *AuthSession) Expired(now time.Time) bool {
	return now.Sub(s.IssuedAt) >= s.TTL
}

// SessionManager 管理合作方 token 的获取、缓存、过期与刷新
// 每个实例最多持有一个会话，并发调用共享同一次登录
type SessionManager struct {
	transport PartnerTransport
	signer    *Signer
	conf      *PartnerConfig
	log       *log.Helper
	metrics   *metrics.PartnerMetrics

	group singleflight.Group

	mu      sync.Mutex
	session *AuthSession
	state   SessionState
	failure error // 凭证被拒绝后保留，直到 Reset

	now   func() time.Time
	sleep sleepFunc
}

// NewSessionManager 创建 SessionManager
func NewSessionManager(transport PartnerTransport, signer *Signer, conf *PartnerConfig, logger log.Logger) *SessionManager {
	return &SessionManager{
		transport: transport,
		signer:    signer,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
		state:     SessionNone,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// EnsureToken 返回有效 token，必要时登录
func (m *SessionManager) EnsureToken(ctx context.Context) (string, error) {
	if token, ok, err := m.cached(); ok {
		return token, err
	}

	// 登录结果被所有等待者共享，不随首个调用方取消
	ch := m.group.DoChan("login", func() (interface{}, error) {
		if token, ok, err := m.cached(); ok {
			return token, err
		}
		return m.login(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", caseErrors.Transport("", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate 在合作方返回 401 时使会话失效；仅当会话仍持有该 token 时生效
func (m *SessionManager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil && m.session.Token == token {
		m.session = nil
		m.state = SessionExpired
		m.log.Infof("partner session invalidated")
	}
}

// Reset 清除会话和登录失败状态（凭证配置变更后调用）
func (m *SessionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.failure = nil
	m.state = SessionNone
}

// State 当前会话状态
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == SessionActive && m.session != nil && m.session.Expired(m.now()) {
		return SessionExpired
	}
	return m.state
}

// cached ok=true 表示无需登录：返回缓存 token 或保留的登录失败
func (m *SessionManager) cached() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == SessionFailed {
		return "", true, m.failure
	}
	if m.session == nil {
		return "", false, nil
	}
	if m.session.Expired(m.now()) {
		m.session = nil
		m.state = SessionExpired
		return "", false, nil
	}
	return m.session.Token, true, nil
}

func (m *SessionManager) setState(s SessionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *SessionManager) login(ctx context.Context) (string, error) {
	m.setState(SessionAuthenticating)
	start := time.Now()

	body := map[string]any{
		"account":  m.conf.Account,
		"password": m.conf.Password,
	}
	req := &PartnerRequest{
		Path: m.conf.Paths.Login,
		Sign: m.signer.Sign(body),
		Body: body,
	}

	var token string
	err := retry(ctx, m.conf.RetryAttempts, backoff{base: m.conf.RetryBaseDelay, max: m.conf.RetryMaxDelay}, m.sleep,
		func(err error) bool { return caseErrors.IsRetryable(err, m.conf.TransientCodes) },
		func(n int, err error) {
			m.log.Warnf("partner login attempt %d failed, retrying: %v", n, err)
		},
		func() error {
			resp, err := m.transport.Post(ctx, req)
			if err != nil {
				return err
			}
			if resp.Code != constants.PartnerCodeSuccess {
				if m.conf.TransientCodes[resp.Code] {
					return caseErrors.PartnerRejected("", resp.Code, resp.Msg)
				}
				return caseErrors.AuthenticationFailed(resp.Code, resp.Msg)
			}
			token, err = parseLoginToken(resp.Data)
			return err
		})
	m.metrics.LoginDuration.Observe(time.Since(start).Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.metrics.LoginTotal.WithLabelValues(constants.ResultFailed).Inc()
		if caseErrors.IsAuthenticationFailed(err) {
			m.state = SessionFailed
			m.failure = err
			m.log.Errorf("partner rejected credentials, login disabled until reset: %v", err)
		} else {
			m.state = SessionNone
			m.log.Errorf("partner login failed: %v", err)
		}
		return "", err
	}

	m.session = &AuthSession{Token: token, IssuedAt: m.now(), TTL: m.conf.TokenTTL}
	m.state = SessionActive
	m.metrics.LoginTotal.WithLabelValues(constants.ResultSuccess).Inc()
	m.log.Infof("partner login succeeded, ttl=%s", m.conf.TokenTTL)
	return token, nil
}

// 登录 data 为 token 字符串或 {"token": "..."}
func parseLoginToken(data json.RawMessage) (string, error) {
	var token string
	if err := json.Unmarshal(data, &token); err == nil && token != "" {
		return token, nil
	}
	var obj struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Token != "" {
		return obj.Token, nil
	}
	return "", caseErrors.Transport("", fmt.Errorf("login response carries no token: %s", string(data)))
}
