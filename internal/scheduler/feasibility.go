package scheduler

// Capacity 是每天人数的硬约束区间 [Min, Max]
type Capacity struct {
	Min int
	Max int
}

func (c Capacity) contains(n int) bool {
	return n >= c.Min && n <= c.Max
}

// IsFeasible 检查每一天的人数是否都在区间内。一个家庭只去一天由 Assignment 的表示方式保证，不需要单独检查
func (c Capacity) IsFeasible(a *Assignment) bool {
	for _, n := range a.attendance {
		if !c.contains(n) {
			return false
		}
	}
	return true
}

// WouldRemainFeasible 只检查试探性移动涉及的两天，a 已经应用了 e
func (c Capacity) WouldRemainFeasible(a *Assignment, e *Edit) bool {
	return c.contains(a.attendance[e.from-1]) && c.contains(a.attendance[e.to-1])
}

// Violations 返回人数越界的所有日期
func (c Capacity) Violations(a *Assignment) []int {
	var days []int
	for i, n := range a.attendance {
		if !c.contains(n) {
			days = append(days, i+1)
		}
	}
	return days
}
