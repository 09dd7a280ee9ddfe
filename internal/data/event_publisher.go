package data

import (
	"context"
	"encoding/json"
	"fmt"

	"caseprint-service/internal/biz"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// statusEventPublisher 状态事件发布（RocketMQ，未启用时降级为日志）
type statusEventPublisher struct {
	data *Data
	log  *log.Helper
}

// NewStatusEventPublisher 创建状态事件发布器
func NewStatusEventPublisher(data *Data, logger log.Logger) biz.StatusEventPublisher {
	return &statusEventPublisher{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Publish 以关联ID为 key、记录类型为 tag 同步发送
func (p *statusEventPublisher) Publish(ctx context.Context, event *biz.StatusEvent) error {
	if p.data.mq == nil {
		p.log.Infof("status event: kind=%s, correlation_id=%s, status=%s, source=%s, stalled=%v",
			event.Kind, event.CorrelationID, event.StatusName, event.Source, event.Stalled)
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	msg := primitive.NewMessage(p.data.eventTopic, body)
	msg.WithKeys([]string{event.CorrelationID})
	msg.WithTag(event.Kind)

	res, err := p.data.mq.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("send status event: %w", err)
	}
	p.log.Debugf("status event sent: correlation_id=%s, msg_id=%s", event.CorrelationID, res.MsgID)
	return nil
}
