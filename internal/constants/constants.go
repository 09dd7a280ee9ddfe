package constants

// 关联ID前缀（合作方协议要求，逐位精确）
const (
	// CorrelationPrefixPayment 支付关联ID前缀
	CorrelationPrefixPayment = "PYEN"
	// CorrelationPrefixOrder 订单关联ID前缀
	CorrelationPrefixOrder = "OREN"
	// CorrelationDateLayout 关联ID日期部分格式 (yyMMdd)
	CorrelationDateLayout = "060102"
)

// Redis Key 前缀常量
const (
	// RedisKeyPayment 支付意向记录 key 前缀
	RedisKeyPayment = "caseprint:payment:"
	// RedisKeyOrder 订单记录 key 前缀
	RedisKeyOrder = "caseprint:order:"
	// RedisKeyActivePayments 未终结支付意向集合
	RedisKeyActivePayments = "caseprint:active:payment"
	// RedisKeyActiveOrders 未终结订单集合
	RedisKeyActiveOrders = "caseprint:active:order"
	// RedisKeyRecordLock 记录锁 key 前缀
	RedisKeyRecordLock = "caseprint:lock:record:"
	// RedisKeyTickLock 对账 tick 主锁
	RedisKeyTickLock = "caseprint:lock:tick"
)

// 合作方请求头
const (
	HeaderAuthorization = "Authorization"
	HeaderSign          = "sign"
	HeaderReqSource     = "req_source"
	// ReqSourceEN 请求来源标识
	ReqSourceEN = "en"
)

// 合作方响应码
const (
	// PartnerCodeSuccess 成功
	PartnerCodeSuccess = 200
	// PartnerCodeUnauthorized token 过期或无效
	PartnerCodeUnauthorized = 401
)

// 回调应答
const (
	// NotifyAckSuccess 停止重复通知
	NotifyAckSuccess = "success"
	// NotifyAckFail 合作方将重试通知
	NotifyAckFail = "fail"
)

// 记录类型（用于事件、指标、归档）
const (
	RecordKindPayment = "payment"
	RecordKindOrder   = "order"
)

// 状态来源（用于事件、指标、归档）
const (
	StatusSourceSubmit = "submit"
	StatusSourcePush   = "push"
	StatusSourcePoll   = "poll"
	StatusSourceStall  = "stall"
	StatusSourceCancel = "cancel"
)

// 指标结果标签
const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultApplied  = "applied"
	ResultNoop     = "noop"
	ResultRejected = "rejected"
	ResultIgnored  = "ignored"
	ResultUnknown  = "unknown_id"
)
