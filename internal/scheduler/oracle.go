package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

type OracleStatus string

const (
	OracleOptimal    OracleStatus = "optimal"
	OracleFeasible   OracleStatus = "feasible"
	OracleInfeasible OracleStatus = "infeasible"
	OracleTimeout    OracleStatus = "timeout"
	OracleError      OracleStatus = "error"
)

// OracleResult 是求解器的输出。Days 只有在状态为 optimal 或 feasible 时才有意义，并且满足容量约束
type OracleResult struct {
	Status    OracleStatus
	Days      []int
	Objective float64 // 整数解在模型目标函数下的取值
	Bound     float64 // 目标函数的下界
	Gap       float64 // (Objective - Bound) / Objective
	Elapsed   time.Duration
}

// Oracle 根据模型给出一个可行的初始分配，或者报告模型不可行
type Oracle interface {
	Solve(ctx context.Context, m *Model) (*OracleResult, error)
}

// Objective 计算整数分配在模型目标函数下的取值
func (m *Model) Objective(days []int) float64 {
	var pref Cost
	for f, d := range days {
		pref += m.costs.preferenceCost(f, d)
	}
	obj := pref.Float64()

	if m.Variant == VariantSoftSmoothing {
		att := attendanceOf(m.costs, days)
		for d := 1; d < len(att); d++ {
			diff := att[d] - att[d-1]
			if diff < 0 {
				diff = -diff
			}
			if excess := diff - m.smoothingLimit; excess > 0 {
				obj += float64(excess * m.smoothingPenalty)
			}
		}
	}

	if m.Variant == VariantAccountingPairs {
		att := attendanceOf(m.costs, days)
		capacity := m.costs.Capacity()
		var accounting Cost
		for d := 1; d <= len(att); d++ {
			today, yesterday := att[d-1], att[m.costs.next(d)-1]
			if !capacity.contains(today) || !capacity.contains(yesterday) {
				return math.Inf(1)
			}
			accounting += m.costs.accountingCost(today, yesterday)
		}
		obj += accounting.Float64()
	}

	return obj
}

// checkStructure 检查不需要求解就能判定的不可行情形
func checkStructure(m *Model) error {
	costs := m.costs
	capacity := costs.Capacity()

	total := 0
	for f := 0; f < costs.NumFamilies(); f++ {
		total += costs.Size(f)
	}
	if total < costs.Days()*capacity.Min {
		return fmt.Errorf("%w: 总人数 %d 少于 %d 天的最低人数 %d", domain.ErrInfeasible, total, costs.Days(), costs.Days()*capacity.Min)
	}
	if total > costs.Days()*capacity.Max {
		return fmt.Errorf("%w: 总人数 %d 超过 %d 天的最高人数 %d", domain.ErrInfeasible, total, costs.Days(), costs.Days()*capacity.Max)
	}

	pinned := make([]int, costs.Days())
	for f, d := range m.Locks {
		pinned[d-1] += costs.Size(f)
		if pinned[d-1] > capacity.Max {
			return fmt.Errorf("%w: 第 %d 天锁定的人数超过上限 %d", domain.ErrInfeasible, d, capacity.Max)
		}
	}

	return nil
}

func attendanceOf(costs *CostModel, days []int) []int {
	att := make([]int, costs.Days())
	for f, d := range days {
		att[d-1] += costs.Size(f)
	}
	return att
}

func gap(objective, bound float64) float64 {
	if objective == 0 {
		return 0
	}
	g := (objective - bound) / math.Abs(objective)
	if g < 0 {
		return 0
	}
	return g
}
