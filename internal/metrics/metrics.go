package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PartnerMetrics 合作方协议与对账指标
type PartnerMetrics struct {
	// 合作方调用
	PartnerCallTotal    *prometheus.CounterVec   // 调用总数（按接口、结果）
	PartnerCallDuration *prometheus.HistogramVec // 调用耗时（含重试）
	PartnerRetryTotal   *prometheus.CounterVec   // 本地重试次数（按接口）

	// 会话
	LoginTotal    *prometheus.CounterVec // 登录次数（按结果）
	ReloginTotal  prometheus.Counter     // 401 触发的重新登录次数
	LoginDuration prometheus.Histogram   // 登录耗时

	// 回调
	NotificationTotal *prometheus.CounterVec // 推送通知（按类型、结果）

	// 状态
	StatusTransitionTotal *prometheus.CounterVec // 状态变更（按类型、来源、结果）

	// 对账
	ReconcileTickDuration prometheus.Histogram
	PollFailureTotal      *prometheus.CounterVec // 轮询失败（按类型）
	StalledRecordTotal    *prometheus.CounterVec // 重试耗尽标记为 Unknown 的记录（按类型）
	ActiveRecords         *prometheus.GaugeVec   // 未终结记录数（按类型）
	OrderSubmitTotal      *prometheus.CounterVec // 订单提交（按结果）

	// 记录锁
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
}

// NewPartnerMetrics 创建指标
func NewPartnerMetrics() *PartnerMetrics {
	return &PartnerMetrics{
		PartnerCallTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseprint_partner_call_total",
				Help: "Total number of partner API calls",
			},
			[]string{"endpoint", "result"}, // result: success/failed
		),
		PartnerCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caseprint_partner_call_duration_seconds",
				Help:    "Duration of partner API calls including local retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		PartnerRetryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseprint_partner_retry_total",
				Help: "Total number of local retries of partner API calls",
			},
			[]string{"endpoint"},
		),

		LoginTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseprint_partner_login_total",
				Help: "Total number of partner logins",
			},
			[]string{"result"},
		),
		ReloginTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "caseprint_partner_relogin_total",
				Help: "Total number of re-logins triggered by an authorization error",
			},
		),
		LoginDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "caseprint_partner_login_duration_seconds",
				Help:    "Duration of partner logins",
				Buckets: prometheus.DefBuckets,
			},
		),

		NotificationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseprint_notification_total",
				Help: "Total number of partner push notifications",
			},
			[]string{"kind", "result"}, // result: applied/noop/rejected/ignored/unknown_id/failed
		),

		StatusTransitionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseprint_status_transition_total",
				Help: "Total number of status updates evaluated against local records",
			},
			[]string{"kind", "source", "result"},
		),

		ReconcileTickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "caseprint_reconcile_tick_duration_seconds",
				Help:    "Duration of reconciliation ticks",
				Buckets: prometheus.DefBuckets,
			},
		),
		PollFailureTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseprint_poll_failure_total",
				Help: "Total number of failed status polls per record",
			},
			[]string{"kind"},
		),
		StalledRecordTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseprint_stalled_record_total",
				Help: "Total number of records marked unknown after poll retries were exhausted",
			},
			[]string{"kind"},
		),
		ActiveRecords: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "caseprint_active_records",
				Help: "Number of records still tracked by the reconciler",
			},
			[]string{"kind"},
		),
		OrderSubmitTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseprint_order_submit_total",
				Help: "Total number of order submissions to the partner",
			},
			[]string{"result"},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseprint_lock_acquire_total",
				Help: "Total number of record lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "caseprint_lock_acquire_duration_seconds",
				Help:    "Duration of record lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}, // 毫秒级
			},
		),
	}
}

// 全局指标实例
var (
	defaultMetrics *PartnerMetrics
	initOnce       sync.Once
)

// InitMetrics 初始化全局指标，重复调用无副作用
func InitMetrics() {
	initOnce.Do(func() {
		defaultMetrics = NewPartnerMetrics()
	})
}

// GetMetrics 获取全局指标实例
func GetMetrics() *PartnerMetrics {
	InitMetrics()
	return defaultMetrics
}
