package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

// GreedyOracle 按人数从多到少依次把家庭放到最靠前的、还有空位的偏好日期，然后修复容量约束
//
// 它不给出任何最优性保证，Bound 恒为 0
type GreedyOracle struct{}

func NewGreedyOracle() *GreedyOracle {
	return &GreedyOracle{}
}

func (g *GreedyOracle) Solve(ctx context.Context, m *Model) (*OracleResult, error) {
	start := time.Now()

	if err := checkStructure(m); err != nil {
		return &OracleResult{Status: OracleInfeasible, Elapsed: time.Since(start)}, nil
	}

	costs := m.costs
	capacity := costs.Capacity()

	order := make([]int, costs.NumFamilies())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return costs.Size(order[i]) > costs.Size(order[j])
	})

	days := make([]int, costs.NumFamilies())
	att := make([]int, costs.Days())
	for i, f := range order {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return &OracleResult{Status: OracleTimeout, Elapsed: time.Since(start)}, err
			}
		}

		size := costs.Size(f)
		day := 0
		if d, ok := m.Locks[f]; ok {
			day = d
		} else {
			for _, d := range costs.Choices(f) {
				if att[d-1]+size <= capacity.Max {
					day = d
					break
				}
			}
		}
		if day == 0 {
			// 所有偏好都满了，放到当前人数最少的一天
			day = 1
			for d := 2; d <= costs.Days(); d++ {
				if att[d-1] < att[day-1] {
					day = d
				}
			}
		}

		days[f] = day
		att[day-1] += size
	}

	// 修复失败并不能证明模型不可行，只说明贪心没有找到可行解
	if err := repair(costs, days, m.Locks); err != nil {
		return &OracleResult{Status: OracleError, Elapsed: time.Since(start)}, fmt.Errorf("%w: %v", domain.ErrOracleFailure, err)
	}

	objective := m.Objective(days)
	return &OracleResult{
		Status:    OracleFeasible,
		Days:      days,
		Objective: objective,
		Bound:     0,
		Gap:       gap(objective, 0),
		Elapsed:   time.Since(start),
	}, nil
}
