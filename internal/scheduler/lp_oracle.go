package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	defaultLPTolerance = 1e-9
	// optimalGap 以内的相对差距视为最优
	optimalGap = 1e-6
)

// LPOracle 求解模型的线性松弛，把每个家庭取值最大的列取整，再修复容量约束
//
// 松弛问题的最优值就是整数解的下界，用来计算 Gap
type LPOracle struct {
	MaxCells  int     // 标准形矩阵允许的最大元素个数，0 表示不限制
	Tolerance float64 // 单纯形法的数值容差

	logger *slog.Logger
}

func NewLPOracle(maxCells int, logger *slog.Logger) *LPOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &LPOracle{
		MaxCells:  maxCells,
		Tolerance: defaultLPTolerance,
		logger:    logger,
	}
}

// standardForm 是 min c'x, Ax = b, x >= 0 形式的问题
type standardForm struct {
	c    []float64
	a    *mat.Dense
	b    []float64
	rows int
	cols int
}

func standardSize(m *Model) (rows, cols int) {
	rows = len(m.Constraints)
	cols = len(m.Variables)
	for _, c := range m.Constraints {
		if c.Sense != SenseEQ {
			cols++
		}
	}
	for _, v := range m.Variables {
		if v.Upper > 0 {
			rows++
			cols++
		}
	}
	return rows, cols
}

// toStandardForm 为每个不等式添加一个松弛列，为每个有上界的变量添加一行，右端为负的行整体取反
func toStandardForm(m *Model) *standardForm {
	rows, cols := standardSize(m)
	sf := &standardForm{
		c:    make([]float64, cols),
		a:    mat.NewDense(rows, cols, nil),
		b:    make([]float64, rows),
		rows: rows,
		cols: cols,
	}

	for j, v := range m.Variables {
		sf.c[j] = v.Cost
	}

	slack := len(m.Variables)
	row := 0
	setRow := func(terms []Term, slackCoef float64, rhs float64) {
		sign := 1.0
		if rhs < 0 {
			sign = -1
		}
		for _, t := range terms {
			sf.a.Set(row, t.Var, sf.a.At(row, t.Var)+sign*t.Coef)
		}
		if slackCoef != 0 {
			sf.a.Set(row, slack, sign*slackCoef)
			slack++
		}
		sf.b[row] = sign * rhs
		row++
	}

	for _, c := range m.Constraints {
		switch c.Sense {
		case SenseLE:
			setRow(c.Terms, 1, c.RHS)
		case SenseGE:
			setRow(c.Terms, -1, c.RHS)
		default:
			setRow(c.Terms, 0, c.RHS)
		}
	}
	for j, v := range m.Variables {
		if v.Upper > 0 {
			setRow([]Term{{Var: j, Coef: 1}}, 1, v.Upper)
		}
	}

	return sf
}

type lpOutcome struct {
	value float64
	x     []float64
	err   error
}

func (o *LPOracle) Solve(ctx context.Context, m *Model) (*OracleResult, error) {
	start := time.Now()
	result := func(status OracleStatus) *OracleResult {
		return &OracleResult{Status: status, Elapsed: time.Since(start)}
	}

	if err := checkStructure(m); err != nil {
		o.logger.Info("模型在结构上不可行", "error", err)
		return result(OracleInfeasible), nil
	}

	rows, cols := standardSize(m)
	if o.MaxCells > 0 && rows*cols > o.MaxCells {
		return result(OracleError), fmt.Errorf("%w: 线性松弛规模 %d x %d 超过上限 %d", domain.ErrOracleFailure, rows, cols, o.MaxCells)
	}

	if err := ctx.Err(); err != nil {
		return result(OracleTimeout), fmt.Errorf("%w: %v", domain.ErrOracleFailure, err)
	}

	sf := toStandardForm(m)
	o.logger.Debug("开始求解线性松弛", "rows", rows, "cols", cols)

	// 单纯形法本身不能被中断，超时后放弃等待，后台的计算结束后结果被丢弃
	done := make(chan lpOutcome, 1)
	go func() {
		value, x, err := lp.Simplex(sf.c, sf.a, sf.b, o.Tolerance, nil)
		done <- lpOutcome{value: value, x: x, err: err}
	}()

	var out lpOutcome
	select {
	case <-ctx.Done():
		return result(OracleTimeout), fmt.Errorf("%w: %v", domain.ErrOracleFailure, ctx.Err())
	case out = <-done:
	}

	if out.err != nil {
		// 松弛只含偏好日期的列，它不可行不代表整个问题不可行
		if errors.Is(out.err, lp.ErrInfeasible) {
			return result(OracleError), fmt.Errorf("%w: 只含偏好日期的线性松弛不可行", domain.ErrOracleFailure)
		}
		return result(OracleError), fmt.Errorf("%w: %v", domain.ErrOracleFailure, out.err)
	}

	days := roundRelaxation(m, out.x)
	if err := repair(m.costs, days, m.Locks); err != nil {
		return result(OracleError), fmt.Errorf("%w: 取整后无法修复: %v", domain.ErrOracleFailure, err)
	}

	objective := m.Objective(days)
	res := &OracleResult{
		Status:    OracleFeasible,
		Days:      days,
		Objective: objective,
		Bound:     out.value,
		Gap:       gap(objective, out.value),
		Elapsed:   time.Since(start),
	}
	if res.Gap <= optimalGap {
		res.Status = OracleOptimal
	}

	o.logger.Debug("线性松弛求解完成", "objective", objective, "bound", out.value, "gap", res.Gap)
	return res, nil
}

// roundRelaxation 对每个家庭取松弛解中取值最大的列，取值相同时取偏好更靠前的
func roundRelaxation(m *Model, x []float64) []int {
	days := make([]int, m.costs.NumFamilies())
	best := make([]float64, len(days))
	for f := range best {
		best[f] = -1
	}

	for j, v := range m.Variables {
		if v.Family < 0 {
			continue
		}
		if x[j] > best[v.Family] {
			best[v.Family] = x[j]
			days[v.Family] = v.Day
		}
	}

	for f, d := range days {
		if d == 0 {
			days[f] = m.costs.Choices(f)[0]
		}
	}

	return days
}
