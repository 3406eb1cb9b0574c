package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/progress"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/repository"
)

// Publisher 是往消息队列发送消息的接口，*amqp.Channel 满足这个接口
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Handler struct {
	validate      *validator.Validate
	config        *config.Config
	repository    *repository.Repository
	translator    ut.Translator
	publisher     Publisher
	progressStore progress.Store

	Mux *chi.Mux
}

func NewHandler(cfg *config.Config, repo *repository.Repository, publisher Publisher, store progress.Store) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:      validate,
		config:        cfg,
		repository:    repo,
		translator:    trans,
		publisher:     publisher,
		progressStore: store,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(middleware.RequestID)
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	// 认证相关
	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	// 以下 API 必须要在登录后才允许调用
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Route("/my-info", func(r chi.Router) {
			r.Use(h.myInfo)
			r.Get("/", h.GetMyInfo)
			r.Get("/runs", h.GetMyRuns)
			r.Patch("/password", h.UpdateMyPassword)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(h.RequiredRole([]domain.Role{domain.RoleAdmin})).Post("/", h.CreateUser)
			r.Get("/", h.GetAllUserInfo)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.userInfo)
				r.Get("/", h.GetUserInfo)
				r.With(h.preventOperateInitialAdmin).With(h.RequiredRole([]domain.Role{domain.RoleAdmin})).Patch("/", h.UpdateUser)
				r.With(h.RequiredRole([]domain.Role{domain.RoleAdmin})).Patch("/password", h.UpdateUserPassword)
			})
		})

		r.Route("/tours", func(r chi.Router) {
			r.Use(h.RequiredRole([]domain.Role{domain.RoleAdmin, domain.RolePlanner}))
			r.Post("/", h.CreateTour)
			r.Post("/import", h.ImportTour)
			r.Get("/", h.GetAllTours)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.tourInfo)
				r.Get("/", h.GetTour)
				r.Get("/export", h.ExportTour)
				r.With(h.RequiredRole([]domain.Role{domain.RoleAdmin})).Delete("/", h.DeleteTour)
				r.Post("/evaluate", h.EvaluateAssignment)
				r.Route("/runs", func(r chi.Router) {
					r.With(h.myInfo).With(h.preventInactiveUser).Post("/", h.CreateRun)
					r.Get("/", h.GetTourRuns)
				})
			})
		})

		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Use(h.RequiredRole([]domain.Role{domain.RoleAdmin, domain.RolePlanner}))
			r.Use(h.runInfo)
			r.Get("/", h.GetRun)
			r.Get("/progress", h.GetRunProgress)
			r.Get("/assignment", h.GetRunAssignment)
		})
	})
}

// publish 把消息序列化之后发送到指定的队列
func (h *Handler) publish(queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(h.config.RabbitMQ.PublishTimeout)*time.Second)
	defer cancel()

	return h.publisher.PublishWithContext(
		ctx,
		"",
		queue,
		true,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
