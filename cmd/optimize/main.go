package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/dataset"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/progress"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/scheduler"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/seed"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/utils"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/worker"
)

// readWarmStart 读取 family_id,assigned_day 格式的初始分配
func readWarmStart(path string, tour *domain.Tour) ([]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	assignments, err := dataset.ReadAssignments(file)
	if err != nil {
		return nil, err
	}

	return utils.AssignmentDays(tour, assignments)
}

func writeResult(path string, assignments []domain.DayAssignment) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := dataset.WriteAssignments(file, assignments); err != nil {
		file.Close()
		return err
	}

	return file.Close()
}

func main() {
	var input, output, warm, variant string
	var maxSweeps int
	var skipOracle bool

	flag.StringVar(&input, "input", "./family_data.csv", "家庭偏好表")
	flag.StringVar(&output, "output", "./submission.csv", "输出的分配结果")
	flag.StringVar(&warm, "warm", "", "热启动使用的分配结果，为空时调用求解器")
	flag.StringVar(&variant, "variant", "", "模型变体 (preference_only, soft_smoothing, accounting_pairs)，为空时使用配置")
	flag.IntVar(&maxSweeps, "max-sweeps", 0, "局部搜索最多轮数，0 表示使用配置")
	flag.BoolVar(&skipOracle, "skip-oracle", false, "跳过求解器，直接贪心构造初始解")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadSolverConfig()
	if err != nil {
		logger.Error("无法读取配置", "error", err)
		os.Exit(1)
	}

	tour, err := seed.LoadTour(input, "", cfg)
	if err != nil {
		logger.Error("无法读取偏好表", "path", input, "error", err)
		os.Exit(1)
	}

	if total, ok := seed.CheckTotal(tour); !ok {
		logger.Warn("总人数不在可行范围内", "total", total)
	}

	params, err := worker.SolverParameters(cfg, &domain.RunParameters{
		MaxSweeps:  int32(maxSweeps),
		Variant:    variant,
		SkipOracle: skipOracle,
	})
	if err != nil {
		logger.Error("参数不合法", "error", err)
		os.Exit(1)
	}

	if warm != "" {
		if params.InitialDays, err = readWarmStart(warm, tour); err != nil {
			logger.Error("无法读取热启动分配", "path", warm, "error", err)
			os.Exit(1)
		}
	}

	ids := progress.FamilyIDs(tour.Families)
	s, err := scheduler.New(params, tour, nil, scheduler.NewLPOracle(cfg.MaxLPCells, logger), progress.NewLogSink(logger, ids))
	if err != nil {
		logger.Error("无法建立模型", "error", err)
		os.Exit(1)
	}

	// CTRL+C 只会让局部搜索提前结束，已经得到的可行分配仍然会被写出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := s.WithLogger(logger).Schedule(ctx)
	if err != nil {
		logger.Error("优化失败", "error", err)
		os.Exit(1)
	}

	if result.Status == domain.RunStatusInfeasible {
		logger.Error("不存在可行分配", "oracleStatus", result.OracleStatus)
		os.Exit(2)
	}

	if err := writeResult(output, result.Assignments); err != nil {
		logger.Error("无法写出分配结果", "path", output, "error", err)
		os.Exit(1)
	}

	logger.Info("已写出分配结果",
		"path", output,
		"status", result.Status,
		"preference", result.Breakdown.Preference.String(),
		"accounting", result.Breakdown.Accounting.String(),
		"total", result.Breakdown.Total.String(),
		"degraded", result.Degraded,
	)
}
