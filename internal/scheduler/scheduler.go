package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/utils"
)

// Result 是一次完整排期的结果
type Result struct {
	Status       domain.RunStatus
	Days         []int // 按 families 的下标排列
	Assignments  []domain.DayAssignment
	InitialCost  Cost
	Breakdown    Breakdown
	Sweeps       int
	Moves        int
	History      []MoveRecord
	Elapsed      time.Duration
	Feasible     bool
	Degraded     bool // 求解器失败，初始解来自贪心构造
	OracleStatus OracleStatus
	Gap          float64
}

type Scheduler struct {
	parameters *Parameters
	tour       *domain.Tour
	families   []domain.Family
	costs      *CostModel
	locks      map[int]int // 家庭下标 -> 日期
	oracle     Oracle
	fallback   Oracle
	sink       ProgressSink
	logger     *slog.Logger
}

// New 校验输入并构建成本模型。families 为 nil 时使用 tour.Families
//
// parameters.Locks 的键是家庭编号，parameters.InitialDays 按 families 的下标排列
func New(parameters *Parameters, tour *domain.Tour, families []domain.Family, oracle Oracle, sink ProgressSink) (*Scheduler, error) {
	if parameters == nil {
		parameters = DefaultParameters()
	}
	if families == nil {
		families = tour.Families
	}

	t := *tour
	t.Families = families
	if err := utils.ValidateTour(&t); err != nil {
		return nil, err
	}

	internal := make([]Family, len(families))
	index := make(map[int]int, len(families))
	for i, family := range families {
		choices := make([]int, len(family.Choices))
		for j, d := range family.Choices {
			choices[j] = int(d)
		}
		internal[i] = Family{Size: int(family.People), Choices: choices}
		index[int(family.ID)] = i
	}

	capacity := Capacity{Min: int(tour.MinAttendance), Max: int(tour.MaxAttendance)}
	costs, err := NewCostModel(internal, int(tour.Days), capacity, CostOptions{Precision: parameters.Precision})
	if err != nil {
		return nil, err
	}

	locks := make(map[int]int, len(parameters.Locks))
	for id, d := range parameters.Locks {
		f, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: 锁定的家庭 %d 不存在", domain.ErrInvalidInput, id)
		}
		if d < 1 || d > int(tour.Days) {
			return nil, fmt.Errorf("%w: 家庭 %d 被锁定在不存在的第 %d 天", domain.ErrInvalidInput, id, d)
		}
		locks[f] = d
	}

	if parameters.InitialDays != nil && len(parameters.InitialDays) != len(families) {
		return nil, fmt.Errorf("%w: 初始分配包含 %d 个家庭，但一共有 %d 个家庭", domain.ErrInvalidInput, len(parameters.InitialDays), len(families))
	}

	if sink == nil {
		sink = discardSink{}
	}

	return &Scheduler{
		parameters: parameters,
		tour:       &t,
		families:   families,
		costs:      costs,
		locks:      locks,
		oracle:     oracle,
		fallback:   NewGreedyOracle(),
		sink:       sink,
		logger:     slog.Default(),
	}, nil
}

// WithLogger 替换默认的 logger
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Costs 返回构建好的成本模型
func (s *Scheduler) Costs() *CostModel {
	return s.costs
}

// Schedule 先得到一个可行的初始分配，再用局部搜索改进它
//
// 不存在可行分配时返回状态为 infeasible 的结果而不是错误
func (s *Scheduler) Schedule(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	days := s.warmStart()
	if days == nil {
		initial, err := s.initialFromOracle(ctx, result)
		if err != nil {
			return nil, err
		}
		if initial == nil {
			result.Status = domain.RunStatusInfeasible
			result.Elapsed = time.Since(start)
			s.logger.Info("不存在可行分配", "tour", s.tour.Name, "oracleStatus", result.OracleStatus)
			return result, nil
		}
		days = initial
	}

	a, err := NewAssignment(s.costs.Sizes(), s.costs.Days(), days)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvariantViolation, err)
	}
	for f, d := range s.locks {
		if err := a.Pin(f, d); err != nil {
			return nil, err
		}
	}
	if !s.costs.Capacity().IsFeasible(a) {
		return nil, fmt.Errorf("%w: 初始分配在第 %v 天违反容量约束", domain.ErrInvariantViolation, s.costs.Capacity().Violations(a))
	}

	result.InitialCost = s.costs.TotalCost(a)
	s.logger.Info("开始局部搜索", "tour", s.tour.Name, "families", a.NumFamilies(), "initialCost", result.InitialCost.String())

	ls := NewLocalSearch(s.costs, SearchParameters{
		MaxSweeps:   s.parameters.MaxSweeps,
		VerifyEvery: s.parameters.VerifyEvery,
	}, s.sink).WithLogger(s.logger)

	sum, err := ls.Run(ctx, a)
	if err != nil {
		return nil, err
	}

	// 与搜索过程无关的最终校验
	if err := utils.ValidateAssignment(a.Days(), s.costs.Sizes(), s.costs.Days(), s.costs.Capacity().Min, s.costs.Capacity().Max); err != nil {
		return nil, err
	}

	switch {
	case sum.Interrupted:
		result.Status = domain.RunStatusInterrupted
	case sum.State == StateConverged:
		result.Status = domain.RunStatusConverged
	default:
		result.Status = domain.RunStatusMaxSweepsReached
	}

	result.Days = a.Days()
	result.Assignments = utils.ToAssignments(s.families, result.Days)
	result.Breakdown = s.costs.Evaluate(a)
	result.Sweeps = sum.Sweeps
	result.Moves = sum.Moves
	result.History = ls.History()
	result.Feasible = sum.Feasible
	result.Elapsed = time.Since(start)

	s.logger.Info("排期完成",
		"tour", s.tour.Name,
		"status", result.Status,
		"cost", result.Breakdown.Total.String(),
		"sweeps", result.Sweeps,
		"moves", result.Moves,
		"degraded", result.Degraded,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// Evaluation 是对一个现成分配的评估结果
type Evaluation struct {
	Breakdown  Breakdown `json:"breakdown"` // 不可行时会计成本为 0
	Feasible   bool      `json:"feasible"`
	Violations []int     `json:"violations"` // 人数不在区间内的日期
	Attendance []int     `json:"attendance"` // 下标 0 对应第 1 天
}

// Evaluate 计算给定分配的成本并检查容量约束，days 按 families 的下标排列
func (s *Scheduler) Evaluate(days []int) (*Evaluation, error) {
	a, err := NewAssignment(s.costs.Sizes(), s.costs.Days(), days)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	violations := s.costs.Capacity().Violations(a)
	if violations == nil {
		violations = []int{}
	}

	ev := &Evaluation{
		Feasible:   len(violations) == 0,
		Violations: violations,
		Attendance: a.AttendanceByDay(),
	}

	// 会计成本只在人数区间内有定义，不可行时只给出偏好成本
	if ev.Feasible {
		ev.Breakdown = s.costs.Evaluate(a)
		return ev, nil
	}
	for f, d := range days {
		c, err := s.costs.PreferenceCost(f, d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		ev.Breakdown.Preference += c
	}
	ev.Breakdown.Total = ev.Breakdown.Preference

	return ev, nil
}

// warmStart 使用调用方给出的初始分配，锁定的家庭先被移到指定日期，不可行时尝试修复，修复失败返回 nil
func (s *Scheduler) warmStart() []int {
	if s.parameters.InitialDays == nil {
		return nil
	}

	days := append([]int(nil), s.parameters.InitialDays...)
	for f, d := range s.locks {
		days[f] = d
	}
	for f, d := range days {
		if d < 1 || d > s.costs.Days() {
			s.logger.Warn("热启动分配包含不存在的日期，改为调用求解器", "family", f, "day", d)
			return nil
		}
	}

	if err := repair(s.costs, days, s.locks); err != nil {
		s.logger.Warn("热启动分配不可行且无法修复，改为调用求解器", "error", err)
		return nil
	}
	return days
}

// initialFromOracle 调用求解器，失败或超时时退回贪心构造并标记 Degraded。返回 nil, nil 表示不可行
func (s *Scheduler) initialFromOracle(ctx context.Context, result *Result) ([]int, error) {
	model, err := BuildModel(s.costs, ModelOptions{
		Variant:          s.parameters.Variant,
		MaxRank:          s.parameters.MaxRank,
		SmoothingLimit:   s.parameters.SmoothingLimit,
		SmoothingPenalty: s.parameters.SmoothingPenalty,
		PairCostCutoff:   s.parameters.PairCostCutoff,
		Locks:            s.locks,
	})
	if err != nil {
		return nil, err
	}

	oracle := s.oracle
	if s.parameters.SkipOracle || oracle == nil {
		oracle = s.fallback
	}

	res, err := s.solve(ctx, oracle, model)
	if err != nil || res.Status == OracleTimeout || res.Status == OracleError {
		if oracle == s.fallback {
			return nil, oracleFailure(err)
		}

		s.logger.Warn("求解器失败，改用贪心构造初始解", "error", err)
		result.Degraded = true

		// 上层的 ctx 可能已经被取消，贪心构造很快，不受它影响
		res, err = s.fallback.Solve(context.WithoutCancel(ctx), model)
		if err != nil {
			return nil, oracleFailure(err)
		}
	}

	result.OracleStatus = res.Status
	result.Gap = res.Gap

	if res.Status == OracleInfeasible {
		return nil, nil
	}
	return res.Days, nil
}

func (s *Scheduler) solve(ctx context.Context, oracle Oracle, model *Model) (*OracleResult, error) {
	if s.parameters.OracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.parameters.OracleTimeout)
		defer cancel()
	}

	res, err := oracle.Solve(ctx, model)
	if err != nil {
		return res, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: 求解器没有返回结果", domain.ErrOracleFailure)
	}
	s.logger.Info("求解器返回", "status", res.Status, "objective", res.Objective, "bound", res.Bound, "gap", res.Gap, "elapsed", res.Elapsed)
	return res, nil
}

func oracleFailure(err error) error {
	if err == nil {
		return domain.ErrOracleFailure
	}
	if errors.Is(err, domain.ErrOracleFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrOracleFailure, err)
}
