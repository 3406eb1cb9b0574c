package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

// randomTour 生成一个可行的 Tour，家庭编号倒序排列，同时返回一个可行的分配
func randomTour(seed int64, numDays int) (*domain.Tour, []int) {
	rng := rand.New(rand.NewSource(seed))
	families, days := randomInstance(rng, numDays)

	tour := &domain.Tour{
		Name:          "测试",
		Days:          int32(numDays),
		MinAttendance: 125,
		MaxAttendance: 300,
		Families:      make([]domain.Family, len(families)),
	}
	for i, f := range families {
		choices := make([]int32, len(f.Choices))
		for j, d := range f.Choices {
			choices[j] = int32(d)
		}
		tour.Families[i] = domain.Family{
			ID:      int32(len(families) - 1 - i),
			People:  int32(f.Size),
			Choices: choices,
		}
	}
	return tour, days
}

type failingOracle struct {
	calls int
}

func (o *failingOracle) Solve(ctx context.Context, m *Model) (*OracleResult, error) {
	o.calls++
	return &OracleResult{Status: OracleError}, errors.New("solver crashed")
}

// 人数区间超出会计公式的定义域时，低人数的日子会得到负的会计成本
func TestNewRejectsAttendanceBandOutsideFormulaDomain(t *testing.T) {
	tour := &domain.Tour{
		Days:          2,
		MinAttendance: 1,
		MaxAttendance: 300,
		Families: []domain.Family{
			{ID: 0, People: 60, Choices: []int32{1}},
			{ID: 1, People: 60, Choices: []int32{2}},
		},
	}
	_, err := New(nil, tour, nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	tour.MinAttendance, tour.MaxAttendance = 125, 301
	_, err = New(nil, tour, nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewRejectsInvalidInput(t *testing.T) {
	tour, _ := randomTour(1, 5)
	tour.Families[0].Choices = []int32{6}

	_, err := New(nil, tour, nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	tour, _ = randomTour(1, 5)
	params := DefaultParameters()
	params.Locks = map[int]int{-5: 1}
	_, err = New(params, tour, nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	params = DefaultParameters()
	params.InitialDays = []int{1}
	_, err = New(params, tour, nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestScheduleWithGreedyStart(t *testing.T) {
	tour, _ := randomTour(2, 8)
	params := DefaultParameters()
	params.SkipOracle = true
	params.MaxSweeps = 1000

	sink := &recordingSink{}
	s, err := New(params, tour, nil, NewLPOracle(0, nil), sink)
	require.NoError(t, err)

	res, err := s.Schedule(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusConverged, res.Status)
	assert.True(t, res.Feasible)
	assert.False(t, res.Degraded)
	assert.Equal(t, OracleFeasible, res.OracleStatus)
	assert.LessOrEqual(t, res.Breakdown.Total, res.InitialCost)
	assert.Equal(t, res.Moves, len(res.History))
	assert.Equal(t, sink.moves, res.History)

	// 结果按家庭编号排序
	require.Len(t, res.Assignments, len(tour.Families))
	for i, row := range res.Assignments {
		assert.Equal(t, int32(i), row.FamilyID)
	}
	last := len(tour.Families) - 1
	assert.Equal(t, int32(res.Days[last]), res.Assignments[0].AssignedDay)
}

func TestScheduleFallsBackWhenOracleFails(t *testing.T) {
	tour, _ := randomTour(3, 6)
	oracle := &failingOracle{}

	s, err := New(DefaultParameters(), tour, nil, oracle, nil)
	require.NoError(t, err)

	res, err := s.Schedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, oracle.calls)
	assert.True(t, res.Degraded)
	assert.True(t, res.Feasible)
	assert.Equal(t, OracleFeasible, res.OracleStatus)
}

func TestScheduleUsesUnrankedDayWhenRelaxationFails(t *testing.T) {
	tour := &domain.Tour{
		Name:          "冷门日期",
		Days:          2,
		MinAttendance: 125,
		MaxAttendance: 300,
	}
	for i, f := range unrankedDayFamilies() {
		tour.Families = append(tour.Families, domain.Family{ID: int32(i), People: int32(f.Size), Choices: []int32{int32(f.Choices[0])}})
	}

	s, err := New(DefaultParameters(), tour, nil, NewLPOracle(0, nil), nil)
	require.NoError(t, err)

	res, err := s.Schedule(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, domain.RunStatusInfeasible, res.Status)
	assert.True(t, res.Degraded)
	assert.True(t, res.Feasible)
}

func TestScheduleReportsInfeasible(t *testing.T) {
	tour := &domain.Tour{
		Name:          "人数不足",
		Days:          3,
		MinAttendance: 125,
		MaxAttendance: 300,
		Families: []domain.Family{
			{ID: 0, People: 5, Choices: []int32{1, 2}},
			{ID: 1, People: 6, Choices: []int32{3}},
		},
	}

	s, err := New(DefaultParameters(), tour, nil, NewLPOracle(0, nil), nil)
	require.NoError(t, err)

	res, err := s.Schedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusInfeasible, res.Status)
	assert.Equal(t, OracleInfeasible, res.OracleStatus)
	assert.False(t, res.Feasible)
	assert.Nil(t, res.Days)
}

func TestScheduleWarmStartAndLocks(t *testing.T) {
	tour, days := randomTour(4, 6)
	oracle := &failingOracle{}

	params := DefaultParameters()
	params.InitialDays = days
	params.MaxSweeps = 1000
	// 锁定一个家庭在它当前的日期
	lockedID := int(tour.Families[0].ID)
	params.Locks = map[int]int{lockedID: days[0]}

	s, err := New(params, tour, nil, oracle, nil)
	require.NoError(t, err)

	a, err := NewAssignment(s.Costs().Sizes(), s.Costs().Days(), days)
	require.NoError(t, err)
	wantInitial := s.Costs().TotalCost(a)

	res, err := s.Schedule(context.Background())
	require.NoError(t, err)

	assert.Zero(t, oracle.calls, "热启动可行时不调用求解器")
	assert.Equal(t, wantInitial, res.InitialCost)
	assert.Equal(t, days[0], res.Days[0])
	assert.True(t, res.Feasible)
	assert.Equal(t, domain.RunStatusConverged, res.Status)
}

func TestScheduleInterrupted(t *testing.T) {
	tour, days := randomTour(5, 5)
	params := DefaultParameters()
	params.InitialDays = days

	s, err := New(params, tour, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Schedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusInterrupted, res.Status)
	assert.True(t, res.Feasible)
	assert.Equal(t, days, res.Days)
}

func TestEvaluate(t *testing.T) {
	tour, days := randomTour(6, 4)
	s, err := New(nil, tour, nil, nil, nil)
	require.NoError(t, err)

	ev, err := s.Evaluate(days)
	require.NoError(t, err)
	assert.True(t, ev.Feasible)
	assert.Empty(t, ev.Violations)
	assert.Len(t, ev.Attendance, 4)

	a, err := NewAssignment(s.Costs().Sizes(), 4, days)
	require.NoError(t, err)
	assert.Equal(t, s.Costs().Evaluate(a), ev.Breakdown)

	// 所有家庭都挤到第 1 天
	crowded := make([]int, len(days))
	for i := range crowded {
		crowded[i] = 1
	}
	ev, err = s.Evaluate(crowded)
	require.NoError(t, err)
	assert.False(t, ev.Feasible)
	assert.Equal(t, []int{1, 2, 3, 4}, ev.Violations)
	assert.Zero(t, ev.Breakdown.Accounting)
	assert.Equal(t, ev.Breakdown.Preference, ev.Breakdown.Total)

	_, err = s.Evaluate([]int{1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCostMarshalJSON(t *testing.T) {
	b, err := json.Marshal(Breakdown{Preference: CostFromFloat(50), Accounting: CostFromFloat(1.25), Total: CostFromFloat(51.25)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"preference":50,"accounting":1.25,"total":51.25}`, string(b))
}
