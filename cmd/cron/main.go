package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caseprint-service/internal/conf"
	"caseprint-service/internal/metrics"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

// 独立部署的对账进程：HTTP 服务关闭内置对账时使用，多副本由 tick 主锁互斥
func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化日志 (使用 go-pkg/logger)
	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/caseprint-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}
	if bc.Log != nil && bc.Log.Level != "" {
		logConfig.Level = bc.Log.Level
	}

	loggerInstance := logger.NewLogger(logConfig)

	// 添加基本字段
	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "caseprint-cron",
	)

	logHelper := log.NewHelper(loggerInstance)
	metrics.InitMetrics()

	// 初始化应用
	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	// 状态对账 - 按配置间隔执行
	_, err = cronScheduler.AddFunc(fmt.Sprintf("@every %s", app.conf.Interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), app.conf.TickTimeout)
		defer cancel()

		startTime := time.Now()
		if err := app.reconciler.Tick(ctx); err != nil {
			logHelper.Errorf("[CRON] Reconcile tick failed: %v", err)
			return
		}
		logHelper.Debugf("[CRON] Reconcile tick finished: cost=%s", time.Since(startTime))
	})
	if err != nil {
		logHelper.Errorf("Failed to add reconcile job: %v", err)
		return
	}

	// 启动定时任务
	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Infof("  - Status reconcile: every %s", app.conf.Interval)
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	// 停止定时任务
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(app.conf.TickTimeout):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}
