package biz

import (
	"time"

	"caseprint-service/internal/conf"
)

// PartnerPaths 合作方接口路径
type PartnerPaths struct {
	Login         string
	SubmitPayment string
	QueryPayment  string
	SubmitOrder   string
	QueryOrder    string
}

// PartnerConfig 合作方协议配置
type PartnerConfig struct {
	Account    string
	Password   string
	SystemName string // 签名串末尾追加的系统名
	Secret     string // 签名串末尾追加的密钥
	DeviceID   string

	TokenTTL    time.Duration
	UserTimeout time.Duration // 用户触发调用的超时
	SubmitLease time.Duration // 下单发送租约，期间其他调用方不得重发同一订单

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	TransientCodes map[int]bool // 可本地重试的合作方业务码

	Location *time.Location // 关联ID日期时区
	Paths    PartnerPaths
}

// ReconcilerConfig 对账配置
type ReconcilerConfig struct {
	Enabled         bool
	Interval        time.Duration
	TickTimeout     time.Duration
	StalenessWindow time.Duration // 超过该时长未收到推送则主动轮询
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	MaxPollFailures int
	BatchSize       int
}

// NewPartnerConfig 从配置创建 PartnerConfig
func NewPartnerConfig(c *conf.Bootstrap) *PartnerConfig {
	config := &PartnerConfig{
		DeviceID:       "DEV01",
		TokenTTL:       110 * time.Minute, // 默认值
		UserTimeout:    15 * time.Second,
		SubmitLease:    2 * time.Minute,
		RetryAttempts:  3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
		TransientCodes: map[int]bool{500: true, 502: true, 503: true, 504: true},
		Location:       time.Local,
		Paths: PartnerPaths{
			Login:         "/api/login",
			SubmitPayment: "/api/pay/submit",
			QueryPayment:  "/api/pay/query",
			SubmitOrder:   "/api/order/submit",
			QueryOrder:    "/api/order/query",
		},
	}
	if c.Server != nil {
		config.UserTimeout = conf.Duration(c.Server.Http.UserTimeout, config.UserTimeout)
	}
	p := c.Partner
	if p == nil {
		return config
	}
	config.Account = p.Account
	config.Password = p.Password
	config.SystemName = p.SystemName
	config.Secret = p.Secret
	if p.DeviceID != "" {
		config.DeviceID = p.DeviceID
	}
	config.TokenTTL = conf.Duration(p.TokenTTL, config.TokenTTL)
	config.SubmitLease = conf.Duration(p.SubmitLease, config.SubmitLease)
	if p.RetryAttempts > 0 {
		config.RetryAttempts = int(p.RetryAttempts)
	}
	config.RetryBaseDelay = conf.Duration(p.RetryBaseDelay, config.RetryBaseDelay)
	config.RetryMaxDelay = conf.Duration(p.RetryMaxDelay, config.RetryMaxDelay)
	if len(p.TransientCodes) > 0 {
		config.TransientCodes = make(map[int]bool, len(p.TransientCodes))
		for _, code := range p.TransientCodes {
			config.TransientCodes[int(code)] = true
		}
	}
	if p.Timezone != "" {
		if loc, err := time.LoadLocation(p.Timezone); err == nil {
			config.Location = loc
		}
	}
	setPath(&config.Paths.Login, p.Paths.Login)
	setPath(&config.Paths.SubmitPayment, p.Paths.SubmitPayment)
	setPath(&config.Paths.QueryPayment, p.Paths.QueryPayment)
	setPath(&config.Paths.SubmitOrder, p.Paths.SubmitOrder)
	setPath(&config.Paths.QueryOrder, p.Paths.QueryOrder)
	return config
}

// NewReconcilerConfig 从配置创建 ReconcilerConfig
func NewReconcilerConfig(c *conf.Bootstrap) *ReconcilerConfig {
	config := &ReconcilerConfig{
		Enabled:         true,
		Interval:        5 * time.Second,
		TickTimeout:     time.Minute,
		StalenessWindow: 30 * time.Second,
		BackoffBase:     5 * time.Second,
		BackoffMax:      5 * time.Minute,
		MaxPollFailures: 8,
		BatchSize:       50,
	}
	r := c.Reconciler
	if r == nil {
		return config
	}
	config.Enabled = r.Enabled
	config.Interval = conf.Duration(r.Interval, config.Interval)
	config.TickTimeout = conf.Duration(r.TickTimeout, config.TickTimeout)
	config.StalenessWindow = conf.Duration(r.StalenessWindow, config.StalenessWindow)
	config.BackoffBase = conf.Duration(r.BackoffBase, config.BackoffBase)
	config.BackoffMax = conf.Duration(r.BackoffMax, config.BackoffMax)
	if r.MaxPollFailures > 0 {
		config.MaxPollFailures = int(r.MaxPollFailures)
	}
	if r.BatchSize > 0 {
		config.BatchSize = int(r.BatchSize)
	}
	return config
}

func setPath(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
