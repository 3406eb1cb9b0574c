package connect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres 创建连接池并确认数据库可以连接
func Postgres(cfg *config.Config) (*sql.DB, error) {
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("无法创建数据库连接池: %w", err)
	}

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open 只是创建数据库连接池对象，并不会立即连接到数据库，因此需要显式地 ping 一下
	if err := dbpool.PingContext(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("无法连接到数据库: %w", err)
	}

	return dbpool, nil
}

func Redis(cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Redis.ConnectTimeout)*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("无法连接到 redis: %w", err)
	}

	return rdb, nil
}

// RabbitMQ 建立连接和通道，并声明所有用到的持久化队列
func RabbitMQ(cfg *config.Config, queues ...string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("无法连接到 rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("无法建立通道: %w", err)
	}

	for _, queue := range queues {
		_, err := ch.QueueDeclare(
			queue, // 队列名称
			true,  // 是否持久化
			false, // 是否自动删除，设置为 false 可以避免没有消费者的时候自动删除队列
			false, // 是否独占
			false, // 等待 RabbitMQ 确认队列是否创建成功
			nil,   // 额外参数
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("无法声明队列 %s: %w", queue, err)
		}
	}

	return conn, ch, nil
}
