package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/progress"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/repository"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/scheduler"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/utils"
)

// Publisher 用于发送运行结束的通知邮件，*amqp.Channel 满足这个接口
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Worker 从消息队列中取出优化任务并执行
type Worker struct {
	config     *config.Config
	repository *repository.Repository
	store      progress.Store
	publisher  Publisher
	oracle     scheduler.Oracle
	logger     *slog.Logger
}

func New(cfg *config.Config, repo *repository.Repository, store progress.Store, publisher Publisher, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		config:     cfg,
		repository: repo,
		store:      store,
		publisher:  publisher,
		oracle:     scheduler.NewLPOracle(cfg.Solver.MaxLPCells, logger),
		logger:     logger,
	}
}

// WithOracle 替换默认的 LP 求解器
func (w *Worker) WithOracle(oracle scheduler.Oracle) *Worker {
	w.oracle = oracle
	return w
}

// SolverParameters 以配置为默认值，再用单次运行指定的参数覆盖
func SolverParameters(cfg *config.SolverConfig, run *domain.RunParameters) (*scheduler.Parameters, error) {
	variant, err := scheduler.ParseModelVariant(cfg.Variant)
	if err != nil {
		return nil, err
	}

	params := scheduler.DefaultParameters()
	params.MaxSweeps = cfg.MaxSweeps
	params.VerifyEvery = cfg.VerifyEvery
	params.OracleTimeout = time.Duration(cfg.OracleTimeout) * time.Second
	params.Variant = variant
	params.MaxRank = cfg.MaxRank
	params.SmoothingLimit = cfg.SmoothingLimit
	params.SmoothingPenalty = cfg.SmoothingPenalty
	params.PairCostCutoff = cfg.PairCostCutoff
	params.Precision = cfg.AccountingPrecision

	if run == nil {
		return params, nil
	}

	if run.MaxSweeps > 0 {
		params.MaxSweeps = int(run.MaxSweeps)
	}
	if run.Variant != "" {
		if params.Variant, err = scheduler.ParseModelVariant(run.Variant); err != nil {
			return nil, err
		}
	}
	if run.MaxRank > 0 {
		params.MaxRank = int(run.MaxRank)
	}
	if run.OracleTimeout > 0 {
		params.OracleTimeout = time.Duration(run.OracleTimeout) * time.Second
	}
	params.SkipOracle = run.SkipOracle

	if len(run.Locks) > 0 {
		params.Locks = make(map[int]int, len(run.Locks))
		for _, lock := range run.Locks {
			params.Locks[int(lock.FamilyID)] = int(lock.AssignedDay)
		}
	}

	return params, nil
}

// Process 执行一个优化任务。任务本身的失败会记录在运行记录中，只有无法落库时才返回错误
func (w *Worker) Process(ctx context.Context, job domain.OptimizeJob) error {
	logger := w.logger.With("runID", job.RunID)

	if err := w.repository.MarkRunRunning(job.RunID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// 重复投递的任务
			logger.Warn("运行不存在或已经开始，跳过")
			return nil
		}
		return err
	}

	run, err := w.repository.GetRunByID(job.RunID)
	if err != nil {
		w.abandon(job.RunID, "无法读取运行记录", err, logger)
		return err
	}

	tour, err := w.repository.GetTourByID(run.TourID)
	if err != nil {
		w.abandon(run.ID, "无法读取参观活动", err, logger)
		return err
	}

	ids := progress.FamilyIDs(tour.Families)
	redisSink := progress.NewRedisSink(
		w.store,
		run.ID,
		ids,
		time.Duration(w.config.Redis.ProgressTTL)*time.Second,
		time.Duration(w.config.Redis.OperationTimeout)*time.Second,
		logger,
	)
	redisSink.MarkStatus(domain.RunStatusRunning)

	logger.Info("开始优化", "tour", tour.Name, "families", len(tour.Families))

	result, err := w.schedule(ctx, run, tour, progress.Multi{progress.NewLogSink(logger, ids), redisSink}, logger)
	if err != nil {
		logger.Error("优化失败", "error", err)
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		if err := w.repository.FinishRun(run, nil, nil); err != nil {
			w.abandon(run.ID, run.Error, err, logger)
			redisSink.MarkStatus(domain.RunStatusFailed)
			return err
		}
		redisSink.MarkStatus(run.Status)
		w.notify(run, tour, logger)
		return nil
	}

	run.Status = result.Status
	run.OracleStatus = string(result.OracleStatus)
	run.Degraded = result.Degraded
	run.Gap = result.Gap
	run.InitialCost = result.InitialCost.Float64()
	run.PreferenceCost = result.Breakdown.Preference.Float64()
	run.AccountingCost = result.Breakdown.Accounting.Float64()
	run.FinalCost = result.Breakdown.Total.Float64()
	run.Sweeps = int32(result.Sweeps)
	run.Moves = int32(result.Moves)
	run.ElapsedMillis = result.Elapsed.Milliseconds()
	run.Feasible = result.Feasible

	if err := w.repository.FinishRun(run, result.Assignments, progress.ConvertAll(result.History, ids)); err != nil {
		w.abandon(run.ID, "无法保存运行结果", err, logger)
		redisSink.MarkStatus(domain.RunStatusFailed)
		return err
	}
	redisSink.MarkStatus(run.Status)

	logger.Info("优化完成", "status", run.Status, "finalCost", run.FinalCost, "moves", run.Moves)
	w.notify(run, tour, logger)
	return nil
}

// abandon 把已经开始但无法正常结束的运行标记为失败，失败只记录日志
func (w *Worker) abandon(runID, message string, cause error, logger *slog.Logger) {
	logger.Error(message, "error", cause)
	if err := w.repository.MarkRunFailed(runID, message); err != nil {
		logger.Error("无法把运行标记为失败", "error", err)
	}
}

func (w *Worker) schedule(ctx context.Context, run *domain.Run, tour *domain.Tour, sink scheduler.ProgressSink, logger *slog.Logger) (*scheduler.Result, error) {
	params, err := SolverParameters(&w.config.Solver, &run.Parameters)
	if err != nil {
		return nil, err
	}

	if run.Parameters.WarmStartRunID != "" {
		warm, err := w.repository.GetRunAssignments(run.Parameters.WarmStartRunID)
		if err != nil {
			return nil, fmt.Errorf("无法读取热启动分配: %w", err)
		}
		if params.InitialDays, err = utils.AssignmentDays(tour, warm); err != nil {
			return nil, err
		}
	}

	s, err := scheduler.New(params, tour, nil, w.oracle, sink)
	if err != nil {
		return nil, err
	}

	return s.WithLogger(logger).Schedule(ctx)
}

// notify 在用户要求时发送运行结束的邮件，失败只记录日志
func (w *Worker) notify(run *domain.Run, tour *domain.Tour, logger *slog.Logger) {
	if !run.Parameters.NotifyOnComplete {
		return
	}

	user, err := w.repository.GetUserByID(run.RequestedBy)
	if err != nil {
		logger.Error("无法获取提交者信息", "error", err)
		return
	}

	body, err := json.Marshal(domain.MailMessage{
		Type: domain.MailTypeRunFinished,
		To:   user.Email,
		Data: domain.RunFinishedMailData{
			FullName:  user.FullName,
			TourName:  tour.Name,
			RunID:     run.ID,
			Status:    string(run.Status),
			FinalCost: run.FinalCost,
			Sweeps:    run.Sweeps,
			Moves:     run.Moves,
			Degraded:  run.Degraded,
			Elapsed:   (time.Duration(run.ElapsedMillis) * time.Millisecond).String(),
		},
	})
	if err != nil {
		logger.Error("无法序列化邮件", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(w.config.RabbitMQ.PublishTimeout)*time.Second)
	defer cancel()

	err = w.publisher.PublishWithContext(ctx, "", w.config.RabbitMQ.MailQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		logger.Error("无法发送通知邮件", "error", err)
	}
}
