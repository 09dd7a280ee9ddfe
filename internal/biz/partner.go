package biz

import (
	"context"
	"encoding/json"
)

// PartnerRequest 合作方签名请求
type PartnerRequest struct {
	Path  string
	Token string // 为空时不携带 Authorization（登录）
	Sign  string
	Body  map[string]any
}

// PartnerResponse 合作方响应信封 {code, msg, data}
type PartnerResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// PartnerTransport 合作方 HTTP 发送器
// 网络错误、超时、无法解析的响应返回 TRANSPORT_ERROR；业务码原样放在 PartnerResponse 中
type PartnerTransport interface {
	Post(ctx context.Context, req *PartnerRequest) (*PartnerResponse, error)
}
