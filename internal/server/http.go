package server

import (
	"encoding/json"
	stdhttp "net/http"

	"caseprint-service/internal/biz"
	"caseprint-service/internal/conf"
	"caseprint-service/internal/constants"
	"caseprint-service/internal/service"

	"github.com/gaoyong06/go-pkg/health"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(c *conf.Bootstrap, fulfillment *service.FulfillmentService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		http.ErrorEncoder(customErrorEncoder),
	}
	if c.Server != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if c.Server.Http.Timeout != "" {
			opts = append(opts, http.Timeout(conf.Duration(c.Server.Http.Timeout, 0)))
		}
	}
	srv := http.NewServer(opts...)
	registerRoutes(srv, fulfillment, log.NewHelper(logger))

	// 健康检查与指标
	srv.Route("/").GET("/health", func(ctx http.Context) error {
		return ctx.Result(200, health.NewResponse("caseprint-service"))
	})
	srv.Handle("/metrics", promhttp.Handler())

	return srv
}

func registerRoutes(srv *http.Server, s *service.FulfillmentService, logger *log.Helper) {
	r := srv.Route("/")

	// 合作方推送：应答体为纯文本 success / fail
	r.POST("/partner/notify/payment", func(ctx http.Context) error {
		var notes []*biz.PaymentNotification
		if err := json.NewDecoder(ctx.Request().Body).Decode(&notes); err != nil {
			logger.Errorf("decode payment notification failed: %v", err)
			return ctx.String(200, constants.NotifyAckFail)
		}
		return ctx.String(200, s.NotifyPayment(ctx, notes))
	})
	r.POST("/partner/notify/order", func(ctx http.Context) error {
		var notes []*biz.OrderNotification
		if err := json.NewDecoder(ctx.Request().Body).Decode(&notes); err != nil {
			logger.Errorf("decode order notification failed: %v", err)
			return ctx.String(200, constants.NotifyAckFail)
		}
		return ctx.String(200, s.NotifyOrder(ctx, notes))
	})

	// 定制 UI
	r.POST("/v1/payments", func(ctx http.Context) error {
		var req service.SubmitPaymentRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := s.SubmitPayment(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.GET("/v1/payments/{id}", func(ctx http.Context) error {
		reply, err := s.GetPayment(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.POST("/v1/payments/{id}/order", func(ctx http.Context) error {
		var req service.SubmitOrderRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := s.SubmitOrder(ctx, ctx.Vars().Get("id"), &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.GET("/v1/orders/{id}", func(ctx http.Context) error {
		reply, err := s.GetOrder(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
	r.GET("/v1/records/{id}/transitions", func(ctx http.Context) error {
		reply, err := s.ListTransitions(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, map[string]interface{}{"transitions": reply})
	})
	r.POST("/v1/records/{id}/cancel", func(ctx http.Context) error {
		if err := s.Cancel(ctx, ctx.Vars().Get("id")); err != nil {
			return err
		}
		return ctx.Result(200, map[string]interface{}{"cancelled": true})
	})
}

func customErrorEncoder(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	se := kerrors.FromError(err)
	status := stdhttp.StatusInternalServerError
	response := map[string]interface{}{
		"code":    status,
		"message": "internal server error",
	}

	if se != nil {
		status = mapErrorStatus(int(se.Code))
		response["code"] = se.Code
		response["reason"] = se.Reason
		response["message"] = se.Message
		if len(se.Metadata) > 0 {
			response["metadata"] = se.Metadata
		}
	} else if err != nil {
		response["message"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func mapErrorStatus(code int) int {
	if code >= 100 && code < 600 {
		return code
	}
	return stdhttp.StatusInternalServerError
}
