package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// State 是局部搜索状态机的状态
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConverged
	StateMaxSweepsReached
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConverged:
		return "converged"
	case StateMaxSweepsReached:
		return "max_sweeps_reached"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// MoveRecord 描述一次被接受的移动
type MoveRecord struct {
	Sweep       int
	FamilyID    int
	FromDay     int
	ToDay       int
	TotalCost   Cost
	Improvement Cost // 相对于搜索开始时的累计节省
	Elapsed     time.Duration
	Tested      int64 // 目前为止尝试过的移动
	Feasible    int64 // 其中满足容量约束的
	Accepted    int64 // 其中降低了成本的
}

// Summary 是一次搜索结束时的摘要
type Summary struct {
	State       State
	InitialCost Cost
	FinalCost   Cost
	Sweeps      int
	Moves       int
	Elapsed     time.Duration
	Feasible    bool
	Interrupted bool
}

// ProgressSink 接收搜索过程中的进度，实现方不应阻塞太久
type ProgressSink interface {
	Move(rec MoveRecord)
	Finish(sum Summary)
}

type discardSink struct{}

func (discardSink) Move(MoveRecord) {}
func (discardSink) Finish(Summary) {}

// SearchParameters 是局部搜索本身的参数
type SearchParameters struct {
	MaxSweeps   int
	VerifyEvery int
}

// LocalSearch 对一个可行分配做首次改进的单家庭移动搜索
//
// 所有移动都严格串行地评估和提交，不能并发使用
type LocalSearch struct {
	costs    *CostModel
	capacity Capacity
	params   SearchParameters
	sink     ProgressSink
	logger   *slog.Logger

	state     State
	sweep     int
	family    int
	candidate int

	start       time.Time
	initialCost Cost
	currentCost Cost
	tested      int64
	feasible    int64
	accepted    int64
	history     []MoveRecord
}

func NewLocalSearch(costs *CostModel, params SearchParameters, sink ProgressSink) *LocalSearch {
	if params.MaxSweeps <= 0 {
		params.MaxSweeps = 50
	}
	if sink == nil {
		sink = discardSink{}
	}

	return &LocalSearch{
		costs:    costs,
		capacity: costs.Capacity(),
		params:   params,
		sink:     sink,
		logger:   slog.Default(),
		state:    StateIdle,
	}
}

// WithLogger 替换默认的 logger
func (ls *LocalSearch) WithLogger(logger *slog.Logger) *LocalSearch {
	ls.logger = logger
	return ls
}

func (ls *LocalSearch) State() State {
	return ls.state
}

// Position 返回当前扫描到的 (轮数, 家庭, 候选下标)
func (ls *LocalSearch) Position() (sweep, family, candidate int) {
	return ls.sweep, ls.family, ls.candidate
}

// History 返回所有被接受的移动
func (ls *LocalSearch) History() []MoveRecord {
	return append([]MoveRecord(nil), ls.history...)
}

// Run 反复扫描直到一整轮没有任何改进，或达到最大轮数
//
// ctx 被取消时会在两个家庭之间停下，此时分配仍然可行，返回的摘要中 Interrupted 为 true，状态为 StateInterrupted
func (ls *LocalSearch) Run(ctx context.Context, a *Assignment) (Summary, error) {
	if !ls.capacity.IsFeasible(a) {
		return Summary{}, ErrInfeasibleStart
	}

	ls.start = time.Now()
	ls.initialCost = ls.costs.TotalCost(a)
	ls.currentCost = ls.initialCost
	ls.state = StateScanning

	interrupted := false
	for ls.sweep = 1; ls.sweep <= ls.params.MaxSweeps; ls.sweep++ {
		moves, err := ls.scan(ctx, a)
		if err != nil {
			if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
				interrupted = true
				ls.state = StateInterrupted
				break
			}
			return ls.summary(a, false), err
		}

		ls.logger.Debug("完成一轮扫描", "sweep", ls.sweep, "moves", moves, "cost", ls.currentCost.String())

		if moves == 0 {
			ls.state = StateConverged
			break
		}
	}

	if ls.state == StateScanning {
		ls.state = StateMaxSweepsReached
		ls.sweep = ls.params.MaxSweeps
	}

	sum := ls.summary(a, interrupted)
	ls.sink.Finish(sum)
	return sum, nil
}

// Sweep 对所有家庭做一轮扫描并返回被接受的移动数
func (ls *LocalSearch) Sweep(ctx context.Context, a *Assignment) (int, error) {
	if !ls.capacity.IsFeasible(a) {
		return 0, ErrInfeasibleStart
	}
	if ls.state == StateIdle {
		ls.start = time.Now()
		ls.initialCost = ls.costs.TotalCost(a)
		ls.currentCost = ls.initialCost
	}
	ls.state = StateScanning
	ls.sweep++

	moves, err := ls.scan(ctx, a)
	if err != nil {
		return moves, err
	}
	if moves == 0 {
		ls.state = StateConverged
	}
	return moves, nil
}

func (ls *LocalSearch) summary(a *Assignment, interrupted bool) Summary {
	sweeps := ls.sweep
	if sweeps > ls.params.MaxSweeps {
		sweeps = ls.params.MaxSweeps
	}
	return Summary{
		State:       ls.state,
		InitialCost: ls.initialCost,
		FinalCost:   ls.currentCost,
		Sweeps:      sweeps,
		Moves:       len(ls.history),
		Elapsed:     time.Since(ls.start),
		Feasible:    ls.capacity.IsFeasible(a),
		Interrupted: interrupted,
	}
}

// scan 是一轮扫描：对每个家庭依次尝试它的偏好日期，遇到改进立即接受并从头重新扫描这个家庭
func (ls *LocalSearch) scan(ctx context.Context, a *Assignment) (int, error) {
	moves := 0

	for ls.family = 0; ls.family < a.NumFamilies(); ls.family++ {
		if err := ctx.Err(); err != nil {
			return moves, err
		}
		if a.IsLocked(ls.family) {
			continue
		}

		choices := ls.costs.Choices(ls.family)
		for ls.candidate = 0; ls.candidate < len(choices); ls.candidate++ {
			day := choices[ls.candidate]
			if day == a.Day(ls.family) {
				continue
			}

			accepted, err := ls.try(a, ls.family, day)
			if err != nil {
				return moves, err
			}
			if accepted {
				moves++
				// 从最优先的偏好开始重新扫描，循环的 ++ 会把 -1 变成 0
				ls.candidate = -1
			}
		}
	}

	return moves, nil
}

// try 评估一次移动，只有严格降低成本时才提交
func (ls *LocalSearch) try(a *Assignment, family, day int) (bool, error) {
	ls.tested++

	edit, err := a.TentativeMove(family, day)
	if err != nil {
		return false, err
	}

	if !ls.capacity.WouldRemainFeasible(a, edit) {
		return false, a.Rollback(edit)
	}
	ls.feasible++

	delta := ls.costs.EditDelta(a, edit)
	if delta >= 0 {
		return false, a.Rollback(edit)
	}

	if err := a.Commit(edit); err != nil {
		return false, err
	}
	ls.accepted++
	ls.currentCost += delta

	rec := MoveRecord{
		Sweep:       ls.sweep,
		FamilyID:    family,
		FromDay:     edit.From(),
		ToDay:       edit.To(),
		TotalCost:   ls.currentCost,
		Improvement: ls.initialCost - ls.currentCost,
		Elapsed:     time.Since(ls.start),
		Tested:      ls.tested,
		Feasible:    ls.feasible,
		Accepted:    ls.accepted,
	}
	ls.history = append(ls.history, rec)

	if err := ls.verify(a, family); err != nil {
		return true, err
	}

	ls.sink.Move(rec)
	return true, nil
}

// verify 在提交之后再做一次完整校验，失败说明增量计算或可行性检查存在缺陷
func (ls *LocalSearch) verify(a *Assignment, family int) error {
	if !ls.capacity.IsFeasible(a) {
		return &InvariantViolationError{
			Reason:   "提交后的分配不满足容量约束",
			Sweep:    ls.sweep,
			FamilyID: family,
			History:  ls.History(),
		}
	}

	if ls.params.VerifyEvery > 0 && ls.accepted%int64(ls.params.VerifyEvery) == 0 {
		if full := ls.costs.TotalCost(a); full != ls.currentCost {
			return &InvariantViolationError{
				Reason:   "增量成本 " + ls.currentCost.String() + " 与整体重算的 " + full.String() + " 不一致",
				Sweep:    ls.sweep,
				FamilyID: family,
				History:  ls.History(),
			}
		}
	}

	return nil
}
