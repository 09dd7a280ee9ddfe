package conf

import (
	"fmt"
	"time"
)

// Bootstrap 服务启动配置（由 kratos config 扫描 configs/config.yaml 得到）
type Bootstrap struct {
	Server     *Server     `yaml:"server" json:"server"`
	Data       *Data       `yaml:"data" json:"data"`
	Partner    *Partner    `yaml:"partner" json:"partner"`
	Reconciler *Reconciler `yaml:"reconciler" json:"reconciler"`
	Log        *Log        `yaml:"log" json:"log"`
}

type Server struct {
	Http struct {
		Network     string `yaml:"network" json:"network"`
		Addr        string `yaml:"addr" json:"addr"`
		Timeout     string `yaml:"timeout" json:"timeout"`
		UserTimeout string `yaml:"user_timeout" json:"user_timeout"`
	} `yaml:"http" json:"http"`
}

type Data struct {
	Database struct {
		Driver      string `yaml:"driver" json:"driver"`
		Source      string `yaml:"source" json:"source"`
		AutoMigrate bool   `yaml:"auto_migrate" json:"auto_migrate"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Addr         string `yaml:"addr" json:"addr"`
		Password     string `yaml:"password" json:"password"`
		Db           int32  `yaml:"db" json:"db"`
		ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
		// 终态记录在 Redis 中保留的时长（长期数据在归档表）
		Retention string `yaml:"retention" json:"retention"`
	} `yaml:"redis" json:"redis"`
	Rocketmq *Rocketmq `yaml:"rocketmq" json:"rocketmq"`
}

type Rocketmq struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	NameServers []string `yaml:"name_servers" json:"name_servers"`
	GroupName   string   `yaml:"group_name" json:"group_name"`
	RetryTimes  int32    `yaml:"retry_times" json:"retry_times"`
	// 合作方回调转发 topic（网关收到推送后写入）
	NotifyTopic string `yaml:"notify_topic" json:"notify_topic"`
	// 状态事件 topic（UI 侧订阅）
	EventTopic string `yaml:"event_topic" json:"event_topic"`
}

// Partner 制造合作方接口配置
type Partner struct {
	BaseURL        string  `yaml:"base_url" json:"base_url"`
	Account        string  `yaml:"account" json:"account"`
	Password       string  `yaml:"password" json:"password"`
	SystemName     string  `yaml:"system_name" json:"system_name"`
	Secret         string  `yaml:"secret" json:"secret"`
	DeviceID       string  `yaml:"device_id" json:"device_id"`
	TokenTTL       string  `yaml:"token_ttl" json:"token_ttl"`
	RequestTimeout string  `yaml:"request_timeout" json:"request_timeout"`
	SubmitLease    string  `yaml:"submit_lease" json:"submit_lease"` // 下单发送租约，需大于单次下单的最长耗时
	RetryAttempts  int32   `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBaseDelay string  `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay  string  `yaml:"retry_max_delay" json:"retry_max_delay"`
	TransientCodes []int32 `yaml:"transient_codes" json:"transient_codes"`
	// 生成关联ID日期部分所用时区，如 Asia/Shanghai
	Timezone string `yaml:"timezone" json:"timezone"`
	Paths    struct {
		Login         string `yaml:"login" json:"login"`
		SubmitPayment string `yaml:"submit_payment" json:"submit_payment"`
		QueryPayment  string `yaml:"query_payment" json:"query_payment"`
		SubmitOrder   string `yaml:"submit_order" json:"submit_order"`
		QueryOrder    string `yaml:"query_order" json:"query_order"`
	} `yaml:"paths" json:"paths"`
}

// Reconciler 状态对账配置
type Reconciler struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Interval        string `yaml:"interval" json:"interval"`
	TickTimeout     string `yaml:"tick_timeout" json:"tick_timeout"`
	StalenessWindow string `yaml:"staleness_window" json:"staleness_window"`
	BackoffBase     string `yaml:"backoff_base" json:"backoff_base"`
	BackoffMax      string `yaml:"backoff_max" json:"backoff_max"`
	MaxPollFailures int32  `yaml:"max_poll_failures" json:"max_poll_failures"`
	BatchSize       int32  `yaml:"batch_size" json:"batch_size"`
}

type Log struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"`
	FilePath   string `yaml:"file_path" json:"file_path"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Duration 解析配置中的时长字符串，为空或格式错误时返回默认值
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// Validate validates the configuration
func (b *Bootstrap) Validate() error {
	if b.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if b.Server.Http.Addr == "" {
		return fmt.Errorf("server.http.addr is required")
	}
	if b.Data == nil {
		return fmt.Errorf("data configuration is required")
	}
	if b.Data.Redis.Addr == "" {
		return fmt.Errorf("data.redis.addr is required")
	}
	if b.Data.Database.Source == "" {
		return fmt.Errorf("data.database.source is required")
	}
	if b.Partner == nil {
		return fmt.Errorf("partner configuration is required")
	}
	if b.Partner.BaseURL == "" {
		return fmt.Errorf("partner.base_url is required")
	}
	if b.Partner.Account == "" || b.Partner.Password == "" {
		return fmt.Errorf("partner.account and partner.password are required")
	}
	if b.Partner.SystemName == "" || b.Partner.Secret == "" {
		return fmt.Errorf("partner.system_name and partner.secret are required")
	}
	if b.Data.Rocketmq != nil && b.Data.Rocketmq.Enabled && len(b.Data.Rocketmq.NameServers) == 0 {
		return fmt.Errorf("data.rocketmq.name_servers is required when rocketmq is enabled")
	}
	return nil
}
