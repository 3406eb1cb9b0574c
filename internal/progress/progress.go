// Package progress 把局部搜索中被接受的移动转发到日志和 redis
package progress

import (
	"log/slog"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/scheduler"
)

// FamilyIDs 返回按下标排列的家庭编号，用于把引擎中的下标换回编号
func FamilyIDs(families []domain.Family) []int32 {
	ids := make([]int32, len(families))
	for i, family := range families {
		ids[i] = family.ID
	}
	return ids
}

// Convert 把引擎的移动记录转换为对外的记录，ids 为 nil 时直接使用下标
func Convert(rec scheduler.MoveRecord, ids []int32) domain.MoveRecord {
	familyID := int32(rec.FamilyID)
	if rec.FamilyID >= 0 && rec.FamilyID < len(ids) {
		familyID = ids[rec.FamilyID]
	}

	return domain.MoveRecord{
		Sweep:       int32(rec.Sweep),
		FamilyID:    familyID,
		FromDay:     int32(rec.FromDay),
		ToDay:       int32(rec.ToDay),
		TotalCost:   rec.TotalCost.Float64(),
		Improvement: rec.Improvement.Float64(),
		Elapsed:     rec.Elapsed,
		Tested:      rec.Tested,
		Feasible:    rec.Feasible,
		Accepted:    rec.Accepted,
	}
}

// ConvertAll 转换整个移动历史
func ConvertAll(history []scheduler.MoveRecord, ids []int32) []domain.MoveRecord {
	out := make([]domain.MoveRecord, len(history))
	for i, rec := range history {
		out[i] = Convert(rec, ids)
	}
	return out
}

// Multi 把同一条记录依次交给多个 sink
type Multi []scheduler.ProgressSink

func (m Multi) Move(rec scheduler.MoveRecord) {
	for _, sink := range m {
		sink.Move(rec)
	}
}

func (m Multi) Finish(sum scheduler.Summary) {
	for _, sink := range m {
		sink.Finish(sum)
	}
}

// LogSink 每接受一次移动输出一行日志，格式对应原来的进度表
type LogSink struct {
	logger *slog.Logger
	ids    []int32
}

func NewLogSink(logger *slog.Logger, ids []int32) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, ids: ids}
}

func (s *LogSink) Move(rec scheduler.MoveRecord) {
	m := Convert(rec, s.ids)
	s.logger.Info("接受移动",
		"sweep", m.Sweep,
		"family", m.FamilyID,
		"from", m.FromDay,
		"to", m.ToDay,
		"tested", m.Tested,
		"feasible", m.Feasible,
		"reduced", m.Accepted,
		"cost", rec.TotalCost.String(),
		"saved", rec.Improvement.String(),
		"elapsed", m.Elapsed,
	)
}

func (s *LogSink) Finish(sum scheduler.Summary) {
	s.logger.Info("局部搜索结束",
		"state", sum.State.String(),
		"initialCost", sum.InitialCost.String(),
		"finalCost", sum.FinalCost.String(),
		"sweeps", sum.Sweeps,
		"moves", sum.Moves,
		"feasible", sum.Feasible,
		"interrupted", sum.Interrupted,
		"elapsed", sum.Elapsed,
	)
}
