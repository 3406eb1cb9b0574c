package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/connect"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/repository"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/seed"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/utils"
)

func main() {
	var op int
	var n int
	var file string
	var name string

	flag.IntVar(&op, "op", 0, "要执行的操作 (1: 插入随机用户, 2: 插入随机参观活动, 3: 导入 CSV 偏好表)")
	flag.IntVar(&n, "n", 5, "要插入的用户数量，或随机参观活动的家庭数量")
	flag.StringVar(&file, "file", "./family_data.csv", "要导入的偏好表")
	flag.StringVar(&name, "name", "", "导入后参观活动的名称，默认为文件名")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 读取配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 连接数据库
	dbpool, err := connect.Postgres(cfg)
	if err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}
	defer dbpool.Close()

	// 创建 repository
	repo := repository.NewRepository(cfg, dbpool)
	if err := repo.EnsureSchema(); err != nil {
		logger.Error("无法创建数据表", "error", err)
		return
	}

	// 执行操作
	switch op {
	case 0:
		slog.Error("未指定操作")
	case 1:
		if n <= 0 {
			slog.Error("请输入合法的用户数量")
		} else {
			cnt := n
			for i := 0; i < n; i++ {
				user, err := utils.GenerateRandomUser(cfg.Seed.User.Password, cfg.Email.UserDomain)
				if err != nil {
					slog.Error("无法生成随机用户", slog.String("error", err.Error()))
					continue
				}

				if err := repo.CreateUser(user); err != nil {
					slog.Error("无法插入用户", slog.String("error", err.Error()))
					continue
				}

				cnt--
			}

			slog.Info("插入用户成功", slog.Int("count", n-cnt))
		}
	case 2:
		if n <= 0 {
			slog.Error("请输入合法的家庭数量")
		} else {
			tour := utils.GenerateRandomTour(n, int32(cfg.Solver.Days), int32(cfg.Solver.MinAttendance), int32(cfg.Solver.MaxAttendance))

			if total, ok := seed.CheckTotal(tour); !ok {
				slog.Warn("总人数不在可行范围内，运行会得到 infeasible", slog.Int64("total", total))
			}

			if err := repo.InsertTour(tour); err != nil {
				slog.Error("无法插入参观活动", slog.String("error", err.Error()))
				return
			}

			slog.Info("插入参观活动成功", slog.Int64("id", tour.ID), slog.Int("families", len(tour.Families)))
		}
	case 3:
		seed.SeedTourFromCSV(repo, file, name, &cfg.Solver)
	default:
		slog.Error("指定的操作非法")
	}
}
