package main

import (
	"flag"
	"os"

	"caseprint-service/internal/conf"
	"caseprint-service/internal/metrics"
	"caseprint-service/internal/server"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	Name     = "caseprint-service"
	Version  = "v1.0.0"
	flagconf string
	id, _    = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, mq *server.MQConsumerServer, rs *server.ReconcileServer) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
			mq,
			rs,
		),
	)
}

func main() {
	flag.Parse()

	// 初始化 Kratos Config
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
	if err := bc.Validate(); err != nil {
		panic(err)
	}

	// 初始化日志 (使用 go-pkg/logger)
	loggerInstance := logger.NewLogger(newLogConfig(bc.Log, "logs/caseprint-service.log"))

	// 添加基本字段
	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	metrics.InitMetrics()

	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}

// newLogConfig 使用配置文件中的日志配置，缺省项取默认值
func newLogConfig(c *conf.Log, defaultPath string) *logger.Config {
	lc := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      defaultPath,
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}
	if c == nil {
		return lc
	}
	if c.Level != "" {
		lc.Level = c.Level
	}
	if c.Format != "" {
		lc.Format = c.Format
	}
	if c.Output != "" {
		lc.Output = c.Output
	}
	if c.FilePath != "" {
		lc.FilePath = c.FilePath
	}
	if c.MaxSize > 0 {
		lc.MaxSize = c.MaxSize
	}
	if c.MaxAge > 0 {
		lc.MaxAge = c.MaxAge
	}
	if c.MaxBackups > 0 {
		lc.MaxBackups = c.MaxBackups
	}
	lc.Compress = c.Compress
	return lc
}
