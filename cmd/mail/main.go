package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/connect"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/wneessen/go-mail"
)

type mailTemplate struct {
	file    string
	subject string
}

var mailTemplates = map[string]mailTemplate{
	domain.MailTypeCreateUser: {
		file:    "./templates/new_account_email.html",
		subject: "参观排期系统 - 账户信息",
	},
	domain.MailTypeRunFinished: {
		file:    "./templates/run_finished_email.html",
		subject: "参观排期系统 - 优化运行已结束",
	},
}

type sender struct {
	from      string
	client    *mail.Client
	templates map[string]*template.Template
	logger    *slog.Logger
}

func parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template, len(mailTemplates))
	for mailType, mt := range mailTemplates {
		tmpl, err := template.ParseFiles(mt.file)
		if err != nil {
			return nil, fmt.Errorf("无法解析邮件模板 %s: %w", mt.file, err)
		}
		templates[mailType] = tmpl
	}
	return templates, nil
}

// build 根据邮件类型套用模板，返回的错误都不值得重试
func (s *sender) build(m *domain.MailMessage) (*mail.Msg, error) {
	tmpl, ok := s.templates[m.Type]
	if !ok {
		return nil, fmt.Errorf("不支持的邮件类型: %s", m.Type)
	}

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("无法设置邮件发件人: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("无法设置邮件收件人: %w", err)
	}
	if err := msg.SetBodyHTMLTemplate(tmpl, m.Data); err != nil {
		return nil, fmt.Errorf("无法设置邮件正文: %w", err)
	}
	msg.Subject(mailTemplates[m.Type].subject)

	return msg, nil
}

func (s *sender) handle(delivery amqp.Delivery) {
	m := domain.MailMessage{}
	if err := json.Unmarshal(delivery.Body, &m); err != nil {
		s.logger.Error("邮件信息反序列化失败", slog.String("error", err.Error()))
		_ = delivery.Nack(false, false)
		return
	}
	// 消息体里可能有初始密码，不写入日志
	s.logger.Info("收到消息", slog.String("type", m.Type), slog.String("to", m.To))

	msg, err := s.build(&m)
	if err != nil {
		s.logger.Error("无法构建邮件", slog.String("type", m.Type), slog.String("error", err.Error()))
		_ = delivery.Nack(false, false)
		return
	}

	if err := s.client.DialAndSend(msg); err != nil {
		s.logger.Error("邮件发送失败", slog.String("error", err.Error()))
		_ = delivery.Nack(false, true) // 发送失败时重新入队
		return
	}

	_ = delivery.Ack(false)
}

func main() {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	/**********************************************
	 * 读取配置文件
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		return
	}

	// 启动时解析所有模板，模板缺失时直接退出
	templates, err := parseTemplates()
	if err != nil {
		logger.Error("无法解析邮件模板", slog.String("error", err.Error()))
		return
	}

	/**********************************************
	 * 创建邮件客户端
	 **********************************************/
	client, err := mail.NewClient(cfg.Email.SMTP.Host,
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithSSL(),
		mail.WithPort(cfg.Email.SMTP.Port),
		mail.WithUsername(cfg.Email.SMTP.Username),
		mail.WithPassword(cfg.Email.SMTP.Password),
	)
	if err != nil {
		logger.Error("无法创建邮件客户端", slog.String("error", err.Error()))
		return
	}
	defer client.Close()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Email.SMTP.DialTimeout)*time.Second)
	defer dialCancel()
	if err := client.DialWithContext(dialCtx); err != nil {
		logger.Error("无法连接到邮件服务器", slog.String("error", err.Error()))
		return
	}

	s := &sender{
		from:      cfg.Email.SMTP.Username,
		client:    client,
		templates: templates,
		logger:    logger,
	}

	/**********************************************
	 * 连接 RabbitMQ
	 **********************************************/
	conn, ch, err := connect.RabbitMQ(cfg, cfg.RabbitMQ.MailQueue)
	if err != nil {
		logger.Error("无法连接到 RabbitMQ", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	defer ch.Close()

	msgs, err := ch.Consume(
		cfg.RabbitMQ.MailQueue, // 队列
		"",                     // 消费者标识，由 RabbitMQ 自动分配
		false,                  // 手动确认
		false,                  // 不独占队列
		false,                  // RabbitMQ 不支持这个参数
		false,                  // 等待 RabbitMQ 响应
		nil,                    // 额外参数
	)
	if err != nil {
		logger.Error("无法消费消息", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-msgs:
				if !ok {
					logger.Error("消息通道已关闭")
					return
				}
				s.handle(delivery)
			}
		}
	}()

	logger.Info("等待消息...（按 CTRL+C 退出）")
	<-sigChan

	slog.Info("正在关闭 mail worker...")
	cancel()
	wg.Wait()
	slog.Info("mail worker 已成功关闭")
}
