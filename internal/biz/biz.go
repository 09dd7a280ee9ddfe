package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewPartnerConfig,
	NewReconcilerConfig,
	NewSigner,
	NewCorrelationIDGenerator,
	NewSessionManager,
	NewStatusTrail,
	NewOrderPaymentClient,
	NewStatusReconciler, // 推送与轮询的汇合点
)
