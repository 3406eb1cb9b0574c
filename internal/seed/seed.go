package seed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/dataset"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/repository"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/utils"
)

// LoadTour 读取偏好表并按求解器配置的天数和人数区间组装成参观活动
func LoadTour(path string, name string, cfg *config.SolverConfig) (*domain.Tour, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	families, err := dataset.ReadFamilies(file)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = filepath.Base(path)
	}

	tour := &domain.Tour{
		Name:          name,
		Description:   fmt.Sprintf("从 %s 导入", filepath.Base(path)),
		Days:          int32(cfg.Days),
		MinAttendance: int32(cfg.MinAttendance),
		MaxAttendance: int32(cfg.MaxAttendance),
		Families:      families,
	}

	if err := utils.ValidateTour(tour); err != nil {
		return nil, err
	}

	return tour, nil
}

// CheckTotal 粗略检查总人数是否落在 days*min 到 days*max 之间，不满足时一定不存在可行分配
func CheckTotal(tour *domain.Tour) (int64, bool) {
	var total int64
	for _, family := range tour.Families {
		total += int64(family.People)
	}

	days := int64(tour.Days)
	return total, total >= days*int64(tour.MinAttendance) && total <= days*int64(tour.MaxAttendance)
}

// SeedTourFromCSV 把 CSV 偏好表作为一个新的参观活动写入数据库
func SeedTourFromCSV(r *repository.Repository, path string, name string, cfg *config.SolverConfig) {
	tour, err := LoadTour(path, name, cfg)
	if err != nil {
		slog.Error("读取偏好表失败", "path", path, "error", err)
		return
	}

	total, ok := CheckTotal(tour)
	if !ok {
		// 仍然导入，方便在界面上看到 infeasible 的运行结果
		slog.Warn("总人数不在可行范围内", "total", total, "days", tour.Days, "min", tour.MinAttendance, "max", tour.MaxAttendance)
	}

	if err := r.InsertTour(tour); err != nil {
		slog.Error("插入参观活动失败", "error", err)
		return
	}

	slog.Info("插入数据完成", "tourID", tour.ID, "families", len(tour.Families), "people", total)
}
