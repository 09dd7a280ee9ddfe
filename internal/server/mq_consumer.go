package server

import (
	"context"
	"encoding/json"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/conf"
	"caseprint-service/internal/constants"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// NotifyEnvelope 网关转发的合作方推送
type NotifyEnvelope struct {
	Kind    string                     `json:"kind"` // payment / order
	Payment []*biz.PaymentNotification `json:"payment,omitempty"`
	Order   []*biz.OrderNotification   `json:"order,omitempty"`
}

// MQConsumerServer 从 RocketMQ 消费网关转发的合作方推送
type MQConsumerServer struct {
	c          rocketmq.PushConsumer
	reconciler *biz.StatusReconciler
	topic      string
	log        *log.Helper
	enabled    bool
}

// NewMQConsumerServer 创建推送消费者，未启用 RocketMQ 时为空实现
func NewMQConsumerServer(c *conf.Bootstrap, reconciler *biz.StatusReconciler, logger log.Logger) *MQConsumerServer {
	helper := log.NewHelper(logger)
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled || c.Data.Rocketmq.NotifyTopic == "" {
		return &MQConsumerServer{log: helper, enabled: false}
	}
	mq := c.Data.Rocketmq

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		consumer.WithGroupName(mq.GroupName),
		consumer.WithRetry(int(mq.RetryTimes)),
		consumer.WithConsumeMessageBatchMaxSize(32),
	)
	if err != nil {
		helper.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{log: helper, enabled: false}
	}

	return &MQConsumerServer{
		c:          r,
		reconciler: reconciler,
		topic:      mq.NotifyTopic,
		log:        helper,
		enabled:    true,
	}
}

// Start 订阅推送 topic
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.topic)
	if err := s.c.Subscribe(s.topic, consumer.MessageSelector{}, s.handler); err != nil {
		// 开发环境 RocketMQ 可能不可用，HTTP 推送入口仍然可用
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.topic, err)
		return nil
	}
	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop 关闭消费者
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	retry := false
	for _, msg := range msgs {
		var env NotifyEnvelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			// 格式错误的消息重投也无法处理
			s.log.Errorf("Unmarshal notify message failed: %v, body: %s", err, string(msg.Body))
			continue
		}
		if s.dispatch(ctx, &env) == constants.NotifyAckFail {
			retry = true
		}
	}
	if retry {
		return consumer.ConsumeRetryLater, nil
	}
	return consumer.ConsumeSuccess, nil
}

// dispatch 交给对账器处理，返回与 HTTP 入口一致的应答
func (s *MQConsumerServer) dispatch(ctx context.Context, env *NotifyEnvelope) string {
	switch env.Kind {
	case constants.RecordKindPayment:
		return s.reconciler.AcceptPaymentNotifications(ctx, env.Payment).Ack
	case constants.RecordKindOrder:
		return s.reconciler.AcceptOrderNotifications(ctx, env.Order).Ack
	default:
		s.log.Warnf("Unknown notify kind: %q", env.Kind)
		return constants.NotifyAckSuccess
	}
}
