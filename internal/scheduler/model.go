package scheduler

import (
	"fmt"
	"time"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

// Family 是求解器内部使用的家庭表示，下标即家庭编号
type Family struct {
	Size    int
	Choices []int // 日期从 1 开始，按偏好从高到低
}

// 自动排期参数
type Parameters struct {
	MaxSweeps        int           // 局部搜索最多轮数
	VerifyEvery      int           // 每接受多少次移动整体重算一次成本，0 表示不重算
	OracleTimeout    time.Duration // 求解器时间预算，0 表示不限制
	Variant          ModelVariant  // 模型变体
	MaxRank          int           // 只有名次小于 MaxRank 的偏好才作为求解器的候选变量
	SmoothingLimit   int           // 软约束下相邻两天人数差的上限
	SmoothingPenalty int           // 超出上限时每人的惩罚
	PairCostCutoff   float64       // 会计成本不低于该值的人数组合不建列，0 表示不过滤
	Precision        int           // 会计成本保留的小数位数
	InitialDays      []int         // 热启动分配，为 nil 时调用求解器
	Locks            map[int]int   // 固定的家庭编号 -> 日期
	SkipOracle       bool          // 跳过求解器，直接贪心构造初始解
}

// DefaultParameters 与原始脚本使用的取值保持一致
func DefaultParameters() *Parameters {
	return &Parameters{
		MaxSweeps:        50,
		VerifyEvery:      1,
		OracleTimeout:    60 * time.Second,
		Variant:          VariantPreferenceOnly,
		MaxRank:          MaxChoices,
		SmoothingLimit:   32,
		SmoothingPenalty: 18,
		Precision:        maxPrecision,
	}
}

type ModelVariant string

const (
	// VariantPreferenceOnly 目标函数只包含偏好成本，约束为容量区间
	VariantPreferenceOnly ModelVariant = "preference_only"
	// VariantSoftSmoothing 额外限制相邻两天的人数差，超出部分以软约束惩罚
	VariantSoftSmoothing ModelVariant = "soft_smoothing"
	// VariantAccountingPairs 为每天的（今天人数, 明天人数）组合建二元变量，把会计成本也放进目标函数
	VariantAccountingPairs ModelVariant = "accounting_pairs"
)

func ParseModelVariant(s string) (ModelVariant, error) {
	switch ModelVariant(s) {
	case "", VariantPreferenceOnly:
		return VariantPreferenceOnly, nil
	case VariantSoftSmoothing:
		return VariantSoftSmoothing, nil
	case VariantAccountingPairs:
		return VariantAccountingPairs, nil
	default:
		return "", fmt.Errorf("%w: 未知的模型变体 %q", domain.ErrInvalidInput, s)
	}
}

type Sense int

const (
	SenseLE Sense = iota
	SenseGE
	SenseEQ
)

// Variable 是模型中的一列。Family 为 -1 表示辅助变量（例如软约束的松弛量）
type Variable struct {
	Name    string
	Family  int
	Day     int
	Cost    float64
	Upper   float64 // 0 表示没有显式上界
	Binary  bool
	Integer bool
}

type Term struct {
	Var  int
	Coef float64
}

type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Model 是提交给外部求解器的模型描述
type Model struct {
	Variant     ModelVariant
	Variables   []Variable
	Constraints []Constraint
	Locks       map[int]int // 固定的家庭 -> 日期，求解器不能改动

	smoothingLimit   int
	smoothingPenalty int
	costs            *CostModel
}

// Costs 返回构建模型所用的成本模型，求解器用它来修复和评估整数解
func (m *Model) Costs() *CostModel {
	return m.costs
}

// ModelOptions 控制模型的构建方式
type ModelOptions struct {
	Variant          ModelVariant
	MaxRank          int
	SmoothingLimit   int
	SmoothingPenalty int
	PairCostCutoff   float64
	Locks            map[int]int
}

// BuildModel 按变体构建线性模型
func BuildModel(costs *CostModel, opts ModelOptions) (*Model, error) {
	maxRank := opts.MaxRank
	if maxRank <= 0 || maxRank > MaxChoices {
		maxRank = MaxChoices
	}

	variant, err := ParseModelVariant(string(opts.Variant))
	if err != nil {
		return nil, err
	}

	model := &Model{
		Variant: variant,
		Locks:   make(map[int]int, len(opts.Locks)),

		smoothingLimit:   opts.SmoothingLimit,
		smoothingPenalty: opts.SmoothingPenalty,
		costs:            costs,
	}
	for f, d := range opts.Locks {
		if f < 0 || f >= costs.NumFamilies() {
			return nil, fmt.Errorf("%w: 锁定的家庭 %d 不存在", domain.ErrInvalidInput, f)
		}
		if d < 1 || d > costs.Days() {
			return nil, fmt.Errorf("%w: 家庭 %d 被锁定在不存在的第 %d 天", domain.ErrInvalidInput, f, d)
		}
		model.Locks[f] = d
	}

	days := costs.Days()
	capacity := costs.Capacity()
	dayTerms := make([][]Term, days)

	// 决策变量 x_f_d，只为偏好中的前 maxRank 天创建，被锁定的家庭只有一列
	for f := 0; f < costs.NumFamilies(); f++ {
		candidates := costs.Choices(f)
		if len(candidates) > maxRank {
			candidates = candidates[:maxRank]
		}
		if d, ok := model.Locks[f]; ok {
			candidates = []int{d}
		}

		var visit []Term
		for _, d := range candidates {
			idx := len(model.Variables)
			model.Variables = append(model.Variables, Variable{
				Name:   fmt.Sprintf("x_%d_%d", f, d),
				Family: f,
				Day:    d,
				Cost:   costs.preferenceCost(f, d).Float64(),
				Binary: true,
			})
			visit = append(visit, Term{Var: idx, Coef: 1})
			dayTerms[d-1] = append(dayTerms[d-1], Term{Var: idx, Coef: float64(costs.Size(f))})
		}

		model.Constraints = append(model.Constraints, Constraint{
			Name:  fmt.Sprintf("One_Visit_Per_Family_%d", f),
			Terms: visit,
			Sense: SenseEQ,
			RHS:   1,
		})
	}

	for d := 1; d <= days; d++ {
		model.Constraints = append(model.Constraints,
			Constraint{
				Name:  fmt.Sprintf("Daily_Attendance_GT_%d", d),
				Terms: dayTerms[d-1],
				Sense: SenseGE,
				RHS:   float64(capacity.Min),
			},
			Constraint{
				Name:  fmt.Sprintf("Daily_Attendance_LT_%d", d),
				Terms: dayTerms[d-1],
				Sense: SenseLE,
				RHS:   float64(capacity.Max),
			},
		)
	}

	if model.Variant == VariantSoftSmoothing {
		limit := float64(opts.SmoothingLimit)
		for d := 1; d < days; d++ {
			slack := len(model.Variables)
			model.Variables = append(model.Variables, Variable{
				Name:   fmt.Sprintf("Soft_Constraint_%d", d),
				Family: -1,
				Day:    d,
				Cost:   float64(opts.SmoothingPenalty),
				Upper:  float64(50 - opts.SmoothingLimit),
			})

			// att(d+1) - att(d)
			diff := make([]Term, 0, len(dayTerms[d])+len(dayTerms[d-1])+1)
			diff = append(diff, dayTerms[d]...)
			for _, t := range dayTerms[d-1] {
				diff = append(diff, Term{Var: t.Var, Coef: -t.Coef})
			}

			model.Constraints = append(model.Constraints,
				Constraint{
					Name:  fmt.Sprintf("Limit_Attendance_Difference_Positive_%d", d),
					Terms: append(append([]Term(nil), diff...), Term{Var: slack, Coef: -1}),
					Sense: SenseLE,
					RHS:   limit,
				},
				Constraint{
					Name:  fmt.Sprintf("Limit_Attendance_Difference_Negative_%d", d),
					Terms: append(append([]Term(nil), diff...), Term{Var: slack, Coef: 1}),
					Sense: SenseGE,
					RHS:   -limit,
				},
			)
		}
	}

	if model.Variant == VariantAccountingPairs {
		model.addAccountingPairs(dayTerms, opts.PairCostCutoff)
	}

	return model, nil
}

// addAccountingPairs 加入每天的人数变量和人数组合变量。accounting_d_a_b 为 1 表示第 d 天 a 人、
// 第 d+1 天 b 人，最后一天只有 a == b 的组合
func (m *Model) addAccountingPairs(dayTerms [][]Term, cutoff float64) {
	costs := m.costs
	days := costs.Days()
	capacity := costs.Capacity()

	attendance := make([]int, days)
	for d := 1; d <= days; d++ {
		attendance[d-1] = len(m.Variables)
		m.Variables = append(m.Variables, Variable{
			Name:    fmt.Sprintf("attendance_%d", d),
			Family:  -1,
			Day:     d,
			Upper:   float64(capacity.Max),
			Integer: true,
		})

		m.Constraints = append(m.Constraints, Constraint{
			Name:  fmt.Sprintf("Set_Attendance_%d", d),
			Terms: append(append([]Term(nil), dayTerms[d-1]...), Term{Var: attendance[d-1], Coef: -1}),
			Sense: SenseEQ,
		})
	}

	// byToday[d-1][a-min] 和 byYesterday[d-1][b-min] 收集对应的组合变量
	width := capacity.Max - capacity.Min + 1
	byToday := make([][][]int, days)
	byYesterday := make([][][]int, days)
	for d := 1; d <= days; d++ {
		byToday[d-1] = make([][]int, width)
		byYesterday[d-1] = make([][]int, width)

		var today, yesterday, one []Term
		for a := capacity.Min; a <= capacity.Max; a++ {
			for b := capacity.Min; b <= capacity.Max; b++ {
				if d == days && a != b {
					continue
				}
				cost := costs.accountingCost(a, b).Float64()
				if cutoff > 0 && cost >= cutoff {
					continue
				}

				idx := len(m.Variables)
				m.Variables = append(m.Variables, Variable{
					Name:   fmt.Sprintf("accounting_%d_%d_%d", d, a, b),
					Family: -1,
					Day:    d,
					Cost:   cost,
					Binary: true,
				})
				byToday[d-1][a-capacity.Min] = append(byToday[d-1][a-capacity.Min], idx)
				byYesterday[d-1][b-capacity.Min] = append(byYesterday[d-1][b-capacity.Min], idx)
				today = append(today, Term{Var: idx, Coef: float64(a)})
				yesterday = append(yesterday, Term{Var: idx, Coef: float64(b)})
				one = append(one, Term{Var: idx, Coef: 1})
			}
		}

		m.Constraints = append(m.Constraints,
			Constraint{
				Name:  fmt.Sprintf("Force_Accounting_Attendance_Today_%d", d),
				Terms: append(today, Term{Var: attendance[d-1], Coef: -1}),
				Sense: SenseEQ,
			},
			Constraint{
				Name:  fmt.Sprintf("Force_Accounting_Attendance_Yesterday_%d", d),
				Terms: append(yesterday, Term{Var: attendance[costs.next(d)-1], Coef: -1}),
				Sense: SenseEQ,
			},
			Constraint{
				Name:  fmt.Sprintf("One_Accounting_Variable_Per_Day_%d", d),
				Terms: one,
				Sense: SenseEQ,
				RHS:   1,
			},
		)
	}

	// 第 d 天选中的“明天人数” w 必须和第 d+1 天选中的“今天人数”一致
	for d := 1; d < days; d++ {
		for w := 0; w < width; w++ {
			var terms []Term
			for _, idx := range byYesterday[d-1][w] {
				terms = append(terms, Term{Var: idx, Coef: 1})
			}
			for _, idx := range byToday[d][w] {
				terms = append(terms, Term{Var: idx, Coef: -1})
			}
			m.Constraints = append(m.Constraints, Constraint{
				Name:  fmt.Sprintf("Force_Accounting_Attendance_Equality_%d_%d", d, w+capacity.Min),
				Terms: terms,
				Sense: SenseEQ,
			})
		}
	}
}

// validateProblem 在构建成本模型之前拒绝不合法的输入
func validateProblem(families []Family, days int, capacity Capacity) error {
	if days < 1 {
		return fmt.Errorf("%w: 天数必须为正数", domain.ErrInvalidInput)
	}
	if capacity.Min > capacity.Max || capacity.Min < domain.AttendanceFloor || capacity.Max > domain.AttendanceCeiling {
		return fmt.Errorf("%w: 人数区间 [%d, %d] 必须在 [%d, %d] 之内", domain.ErrInvalidInput,
			capacity.Min, capacity.Max, domain.AttendanceFloor, domain.AttendanceCeiling)
	}
	if len(families) == 0 {
		return fmt.Errorf("%w: 没有任何家庭", domain.ErrInvalidInput)
	}

	for f, family := range families {
		if family.Size <= 0 {
			return fmt.Errorf("%w: 家庭 %d 的人数必须为正数", domain.ErrInvalidInput, f)
		}
		if len(family.Choices) == 0 || len(family.Choices) > MaxChoices {
			return fmt.Errorf("%w: 家庭 %d 的偏好数量必须在 1 到 %d 之间", domain.ErrInvalidInput, f, MaxChoices)
		}
		seen := make(map[int]bool, len(family.Choices))
		for _, d := range family.Choices {
			if d < 1 || d > days {
				return fmt.Errorf("%w: 家庭 %d 的偏好日期 %d 超出范围", domain.ErrInvalidInput, f, d)
			}
			if seen[d] {
				return fmt.Errorf("%w: 家庭 %d 的偏好日期 %d 重复", domain.ErrInvalidInput, f, d)
			}
			seen[d] = true
		}
	}

	return nil
}
