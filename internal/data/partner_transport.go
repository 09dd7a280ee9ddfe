package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/conf"
	"caseprint-service/internal/constants"
	caseErrors "caseprint-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-resty/resty/v2"
)

const defaultPartnerRequestTimeout = 10 * time.Second

// partnerTransport 合作方 HTTP 发送器（resty）
type partnerTransport struct {
	client *resty.Client
	log    *log.Helper
}

// NewPartnerTransport 创建合作方发送器（返回 biz.PartnerTransport 接口）
func NewPartnerTransport(c *conf.Bootstrap, logger log.Logger) biz.PartnerTransport {
	baseURL := ""
	timeout := defaultPartnerRequestTimeout
	if c.Partner != nil {
		baseURL = c.Partner.BaseURL
		timeout = conf.Duration(c.Partner.RequestTimeout, timeout)
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return newPartnerTransport(client, logger)
}

func newPartnerTransport(client *resty.Client, logger log.Logger) *partnerTransport {
	return &partnerTransport{
		client: client,
		log:    log.NewHelper(logger),
	}
}

// Post 发送签名请求；HTTP 401 映射为业务码 401，5xx 与无法解析的响应映射为传输错误
func (t *partnerTransport) Post(ctx context.Context, req *biz.PartnerRequest) (*biz.PartnerResponse, error) {
	r := t.client.R().
		SetContext(ctx).
		SetHeader(constants.HeaderReqSource, constants.ReqSourceEN).
		SetHeader(constants.HeaderSign, req.Sign).
		SetBody(req.Body)
	if req.Token != "" {
		r.SetHeader(constants.HeaderAuthorization, req.Token)
	}

	resp, err := r.Post(req.Path)
	if err != nil {
		return nil, caseErrors.Transport("", err)
	}

	status := resp.StatusCode()
	if status == http.StatusUnauthorized {
		return &biz.PartnerResponse{Code: constants.PartnerCodeUnauthorized, Msg: http.StatusText(status)}, nil
	}
	if status >= http.StatusInternalServerError {
		return nil, caseErrors.Transport("", fmt.Errorf("partner http status %d", status))
	}

	var out biz.PartnerResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		t.log.Warnf("Undecodable partner response: path=%s, http_status=%d, error=%v", req.Path, status, err)
		return nil, caseErrors.Transport("", fmt.Errorf("decode partner response: %w", err))
	}
	return &out, nil
}
