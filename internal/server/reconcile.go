package server

import (
	"context"
	"fmt"
	"time"

	"caseprint-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// ReconcileServer 按固定间隔驱动对账 tick，上一次 tick 未结束时跳过
type ReconcileServer struct {
	cron       *cron.Cron
	reconciler *biz.StatusReconciler
	conf       *biz.ReconcilerConfig
	log        *log.Helper
}

// NewReconcileServer 创建对账调度
func NewReconcileServer(reconciler *biz.StatusReconciler, rc *biz.ReconcilerConfig, logger log.Logger) *ReconcileServer {
	return &ReconcileServer{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		reconciler: reconciler,
		conf:       rc,
		log:        log.NewHelper(logger),
	}
}

// Start 注册 tick 并启动调度
func (s *ReconcileServer) Start(ctx context.Context) error {
	if !s.conf.Enabled {
		s.log.Infof("ReconcileServer is disabled, skipping startup")
		return nil
	}
	spec := fmt.Sprintf("@every %s", s.conf.Interval)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("schedule reconcile tick: %w", err)
	}
	s.cron.Start()
	s.log.Infof("ReconcileServer started: interval=%s, tick_timeout=%s", s.conf.Interval, s.conf.TickTimeout)
	return nil
}

// Stop 停止调度并等待进行中的 tick 结束
func (s *ReconcileServer) Stop(ctx context.Context) error {
	if !s.conf.Enabled {
		return nil
	}
	s.log.Info("Stopping ReconcileServer")
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.conf.TickTimeout):
		s.log.Warn("reconcile tick still running after timeout")
		return nil
	}
}

func (s *ReconcileServer) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.TickTimeout)
	defer cancel()
	if err := s.reconciler.Tick(ctx); err != nil {
		s.log.Errorf("reconcile tick failed: %v", err)
	}
}
