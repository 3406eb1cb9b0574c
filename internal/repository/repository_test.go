package repository

import (
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

func newRepositoryMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Database.QueryTimeout = 5
	cfg.Database.TransactionTimeout = 5

	return NewRepository(cfg, db), mock
}

func TestEnsureSchema(t *testing.T) {
	repo, mock := newRepositoryMock(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS users")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByUsername(t *testing.T) {
	repo, mock := newRepositoryMock(t)
	now := time.Now()

	columns := []string{"id", "username", "password_hash", "full_name", "email", "role", "is_active", "created_at", "version"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("zhangsan").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(7, "zhangsan", "hash", "张三", "zs@example.com", "规划员", true, now, 2))

	user, err := repo.GetUserByUsername("zhangsan")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, domain.RolePlanner, user.Role)
	assert.Equal(t, int32(2), user.Version)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).
		WithArgs("lisi").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = repo.GetUserByUsername("lisi")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserVersionMismatch(t *testing.T) {
	repo, mock := newRepositoryMock(t)

	user := &domain.User{ID: 3, PasswordHash: "hash", FullName: "李四", Email: "a@example.com", Role: domain.RoleAdmin, IsActive: true, Version: 4}
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users")).
		WithArgs("hash", "李四", "a@example.com", domain.RoleAdmin, true, int64(3), int32(4)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	assert.ErrorIs(t, repo.UpdateUser(user), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTour(t *testing.T) {
	repo, mock := newRepositoryMock(t)
	now := time.Now()

	tour := &domain.Tour{
		Name:          "春季参观",
		Days:          2,
		MinAttendance: 125,
		MaxAttendance: 300,
		Families: []domain.Family{
			{ID: 0, People: 4, Choices: []int32{1, 2}},
			{ID: 1, People: 3, Choices: []int32{2}},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tours")).
		WithArgs("春季参观", "", int32(2), int32(125), int32(300)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "version"}).AddRow(11, now, 1))
	families := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO families"))
	choices := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO family_choices"))
	families.ExpectExec().WithArgs(int64(11), int32(0), int32(4), "", "").WillReturnResult(sqlmock.NewResult(0, 1))
	choices.ExpectExec().WithArgs(int64(11), int32(0), 0, int32(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	choices.ExpectExec().WithArgs(int64(11), int32(0), 1, int32(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	families.ExpectExec().WithArgs(int64(11), int32(1), int32(3), "", "").WillReturnResult(sqlmock.NewResult(0, 1))
	choices.ExpectExec().WithArgs(int64(11), int32(1), 0, int32(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertTour(tour))
	assert.Equal(t, int64(11), tour.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTourRollsBack(t *testing.T) {
	repo, mock := newRepositoryMock(t)

	tour := &domain.Tour{Name: "t", Days: 1, MinAttendance: 1, MaxAttendance: 2, Families: []domain.Family{{ID: 0, People: 1, Choices: []int32{1}}}}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tours")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "version"}).AddRow(1, time.Now(), 1))
	families := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO families"))
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO family_choices"))
	families.ExpectExec().WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.InsertTour(tour), sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTourByID(t *testing.T) {
	repo, mock := newRepositoryMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM tours WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "description", "days", "min_attendance", "max_attendance", "created_at", "version"}).
			AddRow("测试", "", 3, 125, 300, now, 1))

	// 第二个家庭没有任何偏好，LEFT JOIN 得到 NULL
	rows := sqlmock.NewRows([]string{"family_id", "people", "contact_name", "contact_handle", "day"}).
		AddRow(0, 4, "张三", "zhangsan", 3).
		AddRow(0, 4, "张三", "zhangsan", 1).
		AddRow(1, 2, "", "", nil).
		AddRow(2, 5, "", "", 2)
	mock.ExpectQuery(regexp.QuoteMeta("FROM families f")).WithArgs(int64(5)).WillReturnRows(rows)

	tour, err := repo.GetTourByID(5)
	require.NoError(t, err)
	require.Len(t, tour.Families, 3)
	assert.Equal(t, []int32{3, 1}, tour.Families[0].Choices)
	assert.Equal(t, "zhangsan", tour.Families[0].ContactHandle)
	assert.Empty(t, tour.Families[1].Choices)
	assert.Equal(t, []int32{2}, tour.Families[2].Choices)
	assert.Equal(t, int32(5), tour.Families[2].People)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunRunning(t *testing.T) {
	repo, mock := newRepositoryMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs SET status = $1")).
		WithArgs(domain.RunStatusRunning, "run-1", domain.RunStatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkRunRunning("run-1"))

	// 已经开始过的运行不会再次开始
	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs SET status = $1")).
		WithArgs(domain.RunStatusRunning, "run-1", domain.RunStatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkRunRunning("run-1"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunFailed(t *testing.T) {
	repo, mock := newRepositoryMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs SET status = $1, error = $2")).
		WithArgs(domain.RunStatusFailed, "无法读取参观活动", sqlmock.AnyArg(), "run-1", domain.RunStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkRunFailed("run-1", "无法读取参观活动"))

	// 已经结束的运行不会被改写
	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs SET status = $1, error = $2")).
		WithArgs(domain.RunStatusFailed, "x", sqlmock.AnyArg(), "run-1", domain.RunStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkRunFailed("run-1", "x"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRun(t *testing.T) {
	repo, mock := newRepositoryMock(t)

	run := &domain.Run{ID: "run-1", Status: domain.RunStatusConverged, OracleStatus: "optimal", FinalCost: 12.5, Sweeps: 2, Moves: 1, Feasible: true}
	assignments := []domain.DayAssignment{{FamilyID: 0, AssignedDay: 2}, {FamilyID: 1, AssignedDay: 1}}
	moves := []domain.MoveRecord{{Sweep: 1, FamilyID: 1, FromDay: 2, ToDay: 1, TotalCost: 12.5, Improvement: 3, Elapsed: 1500 * time.Millisecond, Tested: 4, Feasible: 3, Accepted: 1}}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE runs")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO run_assignments"))
	prep.ExpectExec().WithArgs("run-1", int32(0), int32(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("run-1", int32(1), int32(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO run_moves")).
		ExpectExec().
		WithArgs("run-1", 0, int32(1), int32(1), int32(2), int32(1), 12.5, 3.0, int64(1500), int64(4), int64(3), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.FinishRun(run, assignments, moves))
	assert.Equal(t, int32(3), run.Version)
	assert.NotNil(t, run.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunByID(t *testing.T) {
	repo, mock := newRepositoryMock(t)
	now := time.Now()

	columns := []string{
		"id", "tour_id", "requested_by", "status", "parameters", "oracle_status", "degraded", "gap",
		"initial_cost", "preference_cost", "accounting_cost", "final_cost", "sweeps", "moves", "elapsed_ms",
		"feasible", "error", "created_at", "finished_at", "version",
	}
	parameters := `{"maxSweeps":10,"variant":"soft_smoothing","locks":[{"familyID":3,"assignedDay":7}]}`
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE id = $1")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"run-1", 2, 1, "queued", parameters, "", false, 0.0,
			0.0, 0.0, 0.0, 0.0, 0, 0, 0,
			false, "", now, nil, 1,
		))

	run, err := repo.GetRunByID("run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusQueued, run.Status)
	assert.Equal(t, int32(10), run.Parameters.MaxSweeps)
	assert.Equal(t, "soft_smoothing", run.Parameters.Variant)
	assert.Equal(t, []domain.DayAssignment{{FamilyID: 3, AssignedDay: 7}}, run.Parameters.Locks)
	assert.Nil(t, run.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunMoves(t *testing.T) {
	repo, mock := newRepositoryMock(t)

	columns := []string{"sweep", "family_id", "from_day", "to_day", "total_cost", "improvement", "elapsed_ms", "tested", "feasible", "accepted"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM run_moves WHERE run_id = $1 AND seq >= $2")).
		WithArgs("run-1", 5).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(1, 9, 3, 4, 100.5, 2.5, 250, 10, 8, 6))

	moves, err := repo.GetRunMoves("run-1", 5)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, int32(9), moves[0].FamilyID)
	assert.Equal(t, 250*time.Millisecond, moves[0].Elapsed)
	assert.Equal(t, int64(6), moves[0].Accepted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunsByRequester(t *testing.T) {
	repo, mock := newRepositoryMock(t)
	now := time.Now()

	columns := []string{
		"id", "tour_id", "requested_by", "status", "parameters", "oracle_status", "degraded", "gap",
		"initial_cost", "preference_cost", "accounting_cost", "final_cost", "sweeps", "moves", "elapsed_ms",
		"feasible", "error", "created_at", "finished_at", "version",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE requested_by = $1 ORDER BY created_at DESC")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("run-2", 1, 7, "running", `{}`, "", false, 0.0, 0.0, 0.0, 0.0, 0.0, 0, 0, 0, false, "", now, nil, 2).
			AddRow("run-1", 1, 7, "converged", `{}`, "optimal", false, 0.001, 90.0, 60.0, 20.0, 80.0, 3, 12, 4000, true, "", now, now, 3))

	runs, err := repo.GetRunsByRequester(7)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, domain.RunStatusConverged, runs[1].Status)
	assert.Equal(t, 80.0, runs[1].FinalCost)
	assert.NotNil(t, runs[1].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
