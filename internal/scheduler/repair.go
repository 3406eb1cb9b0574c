package scheduler

import (
	"fmt"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

// repair 原地修改 days，使每天的人数都落在容量区间内
//
// 每一步都选择使偏好成本增加最少的单个家庭移动：先把超员的天清空到上限，再把不足的天补到下限。
// 被锁定的家庭不会被移动
func repair(costs *CostModel, days []int, locks map[int]int) error {
	capacity := costs.Capacity()
	att := attendanceOf(costs, days)

	members := make([][]int, costs.Days())
	for f, d := range days {
		members[d-1] = append(members[d-1], f)
	}

	move := func(f, to int) {
		from := days[f]
		list := members[from-1]
		for i, g := range list {
			if g == f {
				members[from-1] = append(list[:i], list[i+1:]...)
				break
			}
		}
		members[to-1] = append(members[to-1], f)
		att[from-1] -= costs.Size(f)
		att[to-1] += costs.Size(f)
		days[f] = to
	}

	limit := costs.NumFamilies()*costs.Days() + 1
	for step := 0; step < limit; step++ {
		over, under := -1, -1
		for d := 1; d <= costs.Days(); d++ {
			n := att[d-1]
			if n > capacity.Max && (over == -1 || n > att[over-1]) {
				over = d
			}
			if n < capacity.Min && (under == -1 || n < att[under-1]) {
				under = d
			}
		}

		switch {
		case over != -1:
			bestF, bestTo := -1, -1
			var bestDelta Cost
			for _, f := range members[over-1] {
				if _, ok := locks[f]; ok {
					continue
				}
				size := costs.Size(f)
				for to := 1; to <= costs.Days(); to++ {
					if to == over || att[to-1]+size > capacity.Max {
						continue
					}
					delta := costs.preferenceCost(f, to) - costs.preferenceCost(f, over)
					if bestF == -1 || delta < bestDelta {
						bestF, bestTo, bestDelta = f, to, delta
					}
				}
			}
			if bestF == -1 {
				return fmt.Errorf("%w: 无法降低第 %d 天的人数 %d", domain.ErrInfeasible, over, att[over-1])
			}
			move(bestF, bestTo)

		case under != -1:
			bestF := -1
			var bestDelta Cost
			for from := 1; from <= costs.Days(); from++ {
				if from == under {
					continue
				}
				for _, f := range members[from-1] {
					if _, ok := locks[f]; ok {
						continue
					}
					size := costs.Size(f)
					if att[from-1]-size < capacity.Min || att[under-1]+size > capacity.Max {
						continue
					}
					delta := costs.preferenceCost(f, under) - costs.preferenceCost(f, from)
					if bestF == -1 || delta < bestDelta {
						bestF, bestDelta = f, delta
					}
				}
			}
			if bestF == -1 {
				return fmt.Errorf("%w: 无法补足第 %d 天的人数 %d", domain.ErrInfeasible, under, att[under-1])
			}
			move(bestF, under)

		default:
			return nil
		}
	}

	return fmt.Errorf("%w: 修复在 %d 步内没有收敛", domain.ErrInfeasible, limit)
}
