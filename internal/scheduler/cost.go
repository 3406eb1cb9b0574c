package scheduler

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

const (
	// MaxChoices 是每个家庭最多可以给出的偏好天数
	MaxChoices = 10
	// unranked 是不在偏好列表中的天在 rank 表里的取值
	unranked = MaxChoices

	// costScale 是定点成本的放大倍数，Cost(1) 表示 1e-6
	costScale = 1_000_000
	// maxPrecision 是会计成本可以保留的最多小数位数
	maxPrecision = 6
	// maxTableCost 保证所有天的会计成本相加不会溢出 int64
	maxTableCost = 1e16
)

// Cost 是以 1e-6 为单位的定点成本
//
// 所有求和都是整数加法，因此增量计算的结果与整体重算严格一致
type Cost int64

// CostFromFloat 将浮点成本四舍五入到 1e-6
func CostFromFloat(f float64) Cost {
	return Cost(math.Round(f * costScale))
}

func (c Cost) Float64() float64 {
	return float64(c) / costScale
}

func (c Cost) String() string {
	return fmt.Sprintf("%.6f", c.Float64())
}

// MarshalJSON 输出浮点形式的成本
func (c Cost) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, c.Float64(), 'f', -1, 64), nil
}

// preferenceCostByRank 计算人数为 n 的家庭被分到第 rank 个偏好时的成本，rank == unranked 表示不在偏好列表中
func preferenceCostByRank(rank int, n int) int64 {
	m := int64(n)
	switch rank {
	case 0:
		return 0
	case 1:
		return 50
	case 2:
		return 50 + 9*m
	case 3:
		return 100 + 9*m
	case 4:
		return 200 + 9*m
	case 5:
		return 200 + 18*m
	case 6:
		return 300 + 18*m
	case 7:
		return 300 + 36*m
	case 8:
		return 400 + 36*m
	case 9:
		return 500 + 36*m + 199*m
	default:
		return 500 + 36*m + 398*m
	}
}

// AccountingCost 计算某天的会计成本，today 为当天人数，yesterday 为下一天（按公式约定）的人数
//
// 只在 [125, 300] 内有定义，调用方需要保证参数落在容量区间内
func AccountingCost(today, yesterday int) float64 {
	diff := math.Abs(float64(today - yesterday))
	return (float64(today) - 125.0) / 400.0 * math.Pow(float64(today), 0.5+diff/50.0)
}

// CostOptions 选择成本表的变体
type CostOptions struct {
	// Precision 是会计成本保留的小数位数，1 到 6，其余取值表示 6
	Precision int
}

// Breakdown 是总成本的两部分
type Breakdown struct {
	Preference Cost `json:"preference"`
	Accounting Cost `json:"accounting"`
	Total      Cost `json:"total"`
}

// CostModel 持有所有只读的成本数据，构建之后不再修改
type CostModel struct {
	days     int
	capacity Capacity
	sizes    []int
	choices  [][]int

	// rank[f][d-1] 是第 d 天在家庭 f 偏好中的名次，不在列表中为 unranked
	rank [][]int8
	// prefByRank[f][r] 是家庭 f 分到名次 r 的成本
	prefByRank [][MaxChoices + 1]Cost
	// accounting[t-min][y-min] 是量化后的会计成本
	accounting [][]Cost
}

// NewCostModel 根据家庭数据构建成本模型
func NewCostModel(families []Family, days int, capacity Capacity, opts CostOptions) (*CostModel, error) {
	if err := validateProblem(families, days, capacity); err != nil {
		return nil, err
	}

	precision := opts.Precision
	if precision < 1 || precision > maxPrecision {
		precision = maxPrecision
	}

	m := &CostModel{
		days:       days,
		capacity:   capacity,
		sizes:      make([]int, len(families)),
		choices:    make([][]int, len(families)),
		rank:       make([][]int8, len(families)),
		prefByRank: make([][MaxChoices + 1]Cost, len(families)),
	}

	for f, family := range families {
		m.sizes[f] = family.Size
		m.choices[f] = append([]int(nil), family.Choices...)

		m.rank[f] = make([]int8, days)
		for d := range m.rank[f] {
			m.rank[f][d] = unranked
		}
		for r, day := range family.Choices {
			m.rank[f][day-1] = int8(r)
		}

		for r := 0; r <= MaxChoices; r++ {
			m.prefByRank[f][r] = Cost(preferenceCostByRank(r, family.Size) * costScale)
		}
	}

	// 量化只做一次，之后所有地方都查表
	span := capacity.Max - capacity.Min + 1
	unit := math.Pow10(maxPrecision - precision)
	m.accounting = make([][]Cost, span)
	for t := 0; t < span; t++ {
		m.accounting[t] = make([]Cost, span)
		for y := 0; y < span; y++ {
			raw := math.Round(AccountingCost(capacity.Min+t, capacity.Min+y)*math.Pow10(precision)) * unit
			if math.IsNaN(raw) || math.Abs(raw) > maxTableCost {
				return nil, fmt.Errorf("%w: 人数区间 [%d, %d] 内的会计成本超出可表示的范围", domain.ErrInvalidInput, capacity.Min, capacity.Max)
			}
			m.accounting[t][y] = Cost(raw)
		}
	}

	return m, nil
}

func (m *CostModel) Days() int {
	return m.days
}

func (m *CostModel) NumFamilies() int {
	return len(m.sizes)
}

func (m *CostModel) Capacity() Capacity {
	return m.capacity
}

func (m *CostModel) Size(family int) int {
	return m.sizes[family]
}

// Choices 返回家庭的偏好列表，调用方不可修改
func (m *CostModel) Choices(family int) []int {
	return m.choices[family]
}

// Sizes 返回所有家庭人数的副本
func (m *CostModel) Sizes() []int {
	return append([]int(nil), m.sizes...)
}

// Rank 返回 day 在家庭偏好中的名次，不在列表中返回 MaxChoices
func (m *CostModel) Rank(family, day int) (int, error) {
	if family < 0 || family >= len(m.sizes) {
		return 0, ErrInvalidFamily
	}
	if day < 1 || day > m.days {
		return 0, ErrInvalidDay
	}
	return int(m.rank[family][day-1]), nil
}

// PreferenceCost 返回家庭被分到 day 时的偏好成本
func (m *CostModel) PreferenceCost(family, day int) (Cost, error) {
	r, err := m.Rank(family, day)
	if err != nil {
		return 0, err
	}
	return m.prefByRank[family][r], nil
}

// preferenceCost 是不做参数检查的版本，只在热路径中使用
func (m *CostModel) preferenceCost(family, day int) Cost {
	return m.prefByRank[family][m.rank[family][day-1]]
}

// accountingCost 查表得到量化后的会计成本，参数越界会直接 panic
func (m *CostModel) accountingCost(today, yesterday int) Cost {
	return m.accounting[today-m.capacity.Min][yesterday-m.capacity.Min]
}

// next 返回公式中的“昨天”，最后一天与自身比较
func (m *CostModel) next(day int) int {
	if day == m.days {
		return day
	}
	return day + 1
}

// Evaluate 整体重算成本，复杂度 O(families + days)
func (m *CostModel) Evaluate(a *Assignment) Breakdown {
	var b Breakdown
	for f, day := range a.days {
		b.Preference += m.preferenceCost(f, day)
	}
	for d := 1; d <= m.days; d++ {
		b.Accounting += m.accountingCost(a.Attendance(d), a.Attendance(m.next(d)))
	}
	b.Total = b.Preference + b.Accounting
	return b
}

// TotalCost 是成本的基准值
func (m *CostModel) TotalCost(a *Assignment) Cost {
	return m.Evaluate(a).Total
}

// IncrementalCostDelta 计算把 family 从 from 移到 to 之后总成本的变化量，a 为移动之前的状态
//
// 移动之后 from 和 to 两天的人数都必须仍在容量区间内
func (m *CostModel) IncrementalCostDelta(a *Assignment, family, from, to int) Cost {
	return m.delta(a, family, from, to, false)
}

// EditDelta 与 IncrementalCostDelta 相同，但 a 已经应用了 e
func (m *CostModel) EditDelta(a *Assignment, e *Edit) Cost {
	return m.delta(a, e.family, e.from, e.to, true)
}

func (m *CostModel) delta(a *Assignment, family, from, to int, applied bool) Cost {
	if from == to {
		return 0
	}

	size := m.sizes[family]
	before := func(d int) int {
		v := a.attendance[d-1]
		if applied {
			switch d {
			case from:
				v += size
			case to:
				v -= size
			}
		}
		return v
	}
	after := func(d int) int {
		v := a.attendance[d-1]
		if !applied {
			switch d {
			case from:
				v -= size
			case to:
				v += size
			}
		}
		return v
	}

	delta := m.preferenceCost(family, to) - m.preferenceCost(family, from)

	// 第 d 天的会计成本只依赖 d 和 d+1 两天的人数，因此只有 from-1, from, to-1, to 四项会变化
	var touched [4]int
	n := 0
	for _, d := range [4]int{from - 1, from, to - 1, to} {
		if d < 1 || d > m.days {
			continue
		}
		dup := false
		for i := 0; i < n; i++ {
			if touched[i] == d {
				dup = true
				break
			}
		}
		if !dup {
			touched[n] = d
			n++
		}
	}

	for i := 0; i < n; i++ {
		d := touched[i]
		nd := m.next(d)
		delta += m.accountingCost(after(d), after(nd)) - m.accountingCost(before(d), before(nd))
	}

	return delta
}
