package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/connect"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/repository"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/worker"
)

func main() {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * 读取配置文件
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		return
	}

	/**********************************************
	 * 连接数据库、redis 和 RabbitMQ
	 **********************************************/
	dbpool, err := connect.Postgres(cfg)
	if err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}
	defer dbpool.Close()

	repo := repository.NewRepository(cfg, dbpool)

	rdb, err := connect.Redis(cfg)
	if err != nil {
		logger.Error("无法连接到 redis", "error", err)
		return
	}
	defer rdb.Close()

	// 邮件队列也要声明，运行结束的通知从这里发出
	conn, ch, err := connect.RabbitMQ(cfg, cfg.RabbitMQ.JobQueue, cfg.RabbitMQ.MailQueue)
	if err != nil {
		logger.Error("无法连接到 RabbitMQ", "error", err)
		return
	}
	defer conn.Close()
	defer ch.Close()

	// 一次只取一个任务，优化任务很耗 CPU
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Error("无法设置预取数量", slog.String("error", err.Error()))
		return
	}

	msgs, err := ch.Consume(
		cfg.RabbitMQ.JobQueue, // 队列
		"",                    // 消费者标识，由 RabbitMQ 自动分配
		false,                 // 手动确认
		false,                 // 不独占队列
		false,                 // RabbitMQ 不支持这个参数
		false,                 // 等待 RabbitMQ 响应
		nil,                   // 额外参数
	)
	if err != nil {
		logger.Error("无法消费消息", slog.String("error", err.Error()))
		os.Exit(1)
	}

	w := worker.New(cfg, repo, rdb, ch, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 取消后正在进行的局部搜索会在两个家庭之间停下，结果以 interrupted 状态保存
	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Error("消息通道已关闭")
					return
				}

				job := domain.OptimizeJob{}
				if err := json.Unmarshal(msg.Body, &job); err != nil {
					logger.Error("任务反序列化失败", slog.String("error", err.Error()))
					_ = msg.Nack(false, false)
					continue
				}

				logger.Info("收到优化任务", "runID", job.RunID, "tourID", job.TourID)
				if err := w.Process(ctx, job); err != nil {
					logger.Error("无法保存运行结果", "runID", job.RunID, "error", err)
					_ = msg.Nack(false, false)
					continue
				}

				_ = msg.Ack(false)
			}
		}
	}()

	logger.Info("等待优化任务...（按 CTRL+C 退出）")
	<-sigChan

	slog.Info("正在关闭 worker...")
	cancel()
	wg.Wait()
	slog.Info("worker 已成功关闭")
}
