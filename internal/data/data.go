package data

import (
	"context"
	"fmt"
	"time"

	"caseprint-service/internal/conf"
	"caseprint-service/internal/data/model"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/google/wire"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewDB,
	NewRedis,
	NewRedsync,
	NewData,
	NewRecordRepo,
	NewArchiveRepo,
	NewStatusEventPublisher,
	NewPartnerTransport,
	NewTickLocker,
)

// Data 数据层结构体
type Data struct {
	db  *gorm.DB
	rdb *redis.Client
	rs  *redsync.Redsync
	mq  rocketmq.Producer // 未启用 RocketMQ 时为 nil

	eventTopic string
	retention  time.Duration // 终态记录在 Redis 中的保留时长
}

// NewDB 创建数据库连接
func NewDB(c *conf.Bootstrap) (*gorm.DB, error) {
	if c.Data == nil || c.Data.Database.Source == "" {
		return nil, fmt.Errorf("database config is nil")
	}
	db, err := gorm.Open(mysql.Open(c.Data.Database.Source), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if c.Data.Database.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return db, nil
}

// Migrate 创建归档表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.PaymentIntent{},
		&model.OrderRecord{},
		&model.StatusTransition{},
	)
}

// NewRedis 创建 Redis 连接
func NewRedis(c *conf.Bootstrap) (*redis.Client, error) {
	if c.Data == nil || c.Data.Redis.Addr == "" {
		return nil, fmt.Errorf("redis config is nil")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Data.Redis.Addr,
		Password:     c.Data.Redis.Password,
		DB:           int(c.Data.Redis.Db),
		ReadTimeout:  conf.Duration(c.Data.Redis.ReadTimeout, 0),
		WriteTimeout: conf.Duration(c.Data.Redis.WriteTimeout, 0),
	})

	// 测试连接
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewRedsync 创建 redsync 实例
func NewRedsync(rdb *redis.Client) *redsync.Redsync {
	pool := goredis.NewPool(rdb)
	return redsync.New(pool)
}

// NewData 创建数据层实例
func NewData(c *conf.Bootstrap, logger log.Logger, db *gorm.DB, rdb *redis.Client, rs *redsync.Redsync) (*Data, func(), error) {
	helper := log.NewHelper(logger)
	d := &Data{
		db:        db,
		rdb:       rdb,
		rs:        rs,
		retention: 7 * 24 * time.Hour,
	}
	if c.Data == nil {
		return nil, nil, fmt.Errorf("data config is nil")
	}
	d.retention = conf.Duration(c.Data.Redis.Retention, d.retention)

	if mq := c.Data.Rocketmq; mq != nil && mq.Enabled {
		p, err := rocketmq.NewProducer(
			producer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
			producer.WithGroupName(mq.GroupName),
			producer.WithRetry(int(mq.RetryTimes)),
		)
		if err != nil {
			helper.Errorf("init rocketmq producer error: %v", err)
		} else if err := p.Start(); err != nil {
			// 开发环境 RocketMQ 可能不可用，事件降级为日志
			helper.Errorf("start rocketmq producer error: %v", err)
		} else {
			d.mq = p
			d.eventTopic = mq.EventTopic
		}
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		if d.mq != nil {
			if err := d.mq.Shutdown(); err != nil {
				helper.Errorf("failed to shutdown rocketmq producer: %v", err)
			}
		}
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
		if err := rdb.Close(); err != nil {
			helper.Errorf("failed to close redis: %v", err)
		}
	}

	return d, cleanup, nil
}
