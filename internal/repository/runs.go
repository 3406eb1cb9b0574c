package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

const runColumns = `id, tour_id, requested_by, status, parameters, oracle_status, degraded, gap,
	initial_cost, preference_cost, accounting_cost, final_cost, sweeps, moves, elapsed_ms,
	feasible, error, created_at, finished_at, version`

func scanRun(s scanner) (*domain.Run, error) {
	run := &domain.Run{}
	var parameters []byte
	var finishedAt sql.NullTime

	dst := []any{
		&run.ID, &run.TourID, &run.RequestedBy, &run.Status, &parameters, &run.OracleStatus, &run.Degraded, &run.Gap,
		&run.InitialCost, &run.PreferenceCost, &run.AccountingCost, &run.FinalCost, &run.Sweeps, &run.Moves, &run.ElapsedMillis,
		&run.Feasible, &run.Error, &run.CreatedAt, &finishedAt, &run.Version,
	}
	if err := s.Scan(dst...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(parameters, &run.Parameters); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return run, nil
}

func (r *Repository) InsertRun(run *domain.Run) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	parameters, err := json.Marshal(run.Parameters)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, tour_id, requested_by, status, parameters)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, version
	`
	args := []any{run.ID, run.TourID, run.RequestedBy, run.Status, string(parameters)}
	return r.dbpool.QueryRowContext(ctx, query, args...).Scan(&run.CreatedAt, &run.Version)
}

func (r *Repository) GetRunByID(id string) (*domain.Run, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.dbpool.QueryRowContext(ctx, query, id))
}

func (r *Repository) GetRunsByTourID(tourID int64) ([]*domain.Run, error) {
	return r.listRuns(`SELECT `+runColumns+` FROM runs WHERE tour_id = $1 ORDER BY created_at DESC`, tourID)
}

// GetRunsByRequester 返回某个用户提交的所有运行，最新的在前
func (r *Repository) GetRunsByRequester(userID int64) ([]*domain.Run, error) {
	return r.listRuns(`SELECT `+runColumns+` FROM runs WHERE requested_by = $1 ORDER BY created_at DESC`, userID)
}

func (r *Repository) listRuns(query string, args ...any) ([]*domain.Run, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]*domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// MarkRunRunning 只有处于排队状态的运行才能开始，重复投递的任务会得到 sql.ErrNoRows
func (r *Repository) MarkRunRunning(id string) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `
		UPDATE runs SET status = $1, version = version + 1
		WHERE id = $2 AND status = $3
	`
	result, err := r.dbpool.ExecContext(ctx, query, domain.RunStatusRunning, id, domain.RunStatusQueued)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// MarkRunFailed 把仍处于运行状态的运行标记为失败，用于无法写入完整结果的情况
func (r *Repository) MarkRunFailed(id string, message string) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `
		UPDATE runs SET status = $1, error = $2, finished_at = $3, version = version + 1
		WHERE id = $4 AND status = $5
	`
	result, err := r.dbpool.ExecContext(ctx, query, domain.RunStatusFailed, message, time.Now(), id, domain.RunStatusRunning)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// FinishRun 在一个事务中写入运行摘要、最终分配和移动记录
func (r *Repository) FinishRun(run *domain.Run, assignments []domain.DayAssignment, moves []domain.MoveRecord) error {
	ctx, cancel := r.transactionContext()
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `
		UPDATE runs
		SET status = $1, oracle_status = $2, degraded = $3, gap = $4, initial_cost = $5,
			preference_cost = $6, accounting_cost = $7, final_cost = $8, sweeps = $9, moves = $10,
			elapsed_ms = $11, feasible = $12, error = $13, finished_at = $14, version = version + 1
		WHERE id = $15
		RETURNING version
	`
	args := []any{
		run.Status, run.OracleStatus, run.Degraded, run.Gap, run.InitialCost,
		run.PreferenceCost, run.AccountingCost, run.FinalCost, run.Sweeps, run.Moves,
		run.ElapsedMillis, run.Feasible, run.Error, now, run.ID,
	}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&run.Version); err != nil {
		return err
	}
	run.FinishedAt = &now

	if len(assignments) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_assignments (run_id, family_id, assigned_day) VALUES ($1, $2, $3)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range assignments {
			if _, err := stmt.ExecContext(ctx, run.ID, a.FamilyID, a.AssignedDay); err != nil {
				return err
			}
		}
	}

	if len(moves) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_moves (run_id, seq, sweep, family_id, from_day, to_day, total_cost, improvement, elapsed_ms, tested, feasible, accepted)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for seq, m := range moves {
			args := []any{run.ID, seq, m.Sweep, m.FamilyID, m.FromDay, m.ToDay, m.TotalCost, m.Improvement, m.Elapsed.Milliseconds(), m.Tested, m.Feasible, m.Accepted}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (r *Repository) GetRunAssignments(runID string) ([]domain.DayAssignment, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `SELECT family_id, assigned_day FROM run_assignments WHERE run_id = $1 ORDER BY family_id`
	rows, err := r.dbpool.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assignments := make([]domain.DayAssignment, 0)
	for rows.Next() {
		var a domain.DayAssignment
		if err := rows.Scan(&a.FamilyID, &a.AssignedDay); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return assignments, nil
}

// GetRunMoves 返回序号不小于 from 的移动记录
func (r *Repository) GetRunMoves(runID string, from int) ([]domain.MoveRecord, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `
		SELECT sweep, family_id, from_day, to_day, total_cost, improvement, elapsed_ms, tested, feasible, accepted
		FROM run_moves WHERE run_id = $1 AND seq >= $2
		ORDER BY seq
	`
	rows, err := r.dbpool.QueryContext(ctx, query, runID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	moves := make([]domain.MoveRecord, 0)
	for rows.Next() {
		var m domain.MoveRecord
		var elapsed int64
		dst := []any{&m.Sweep, &m.FamilyID, &m.FromDay, &m.ToDay, &m.TotalCost, &m.Improvement, &elapsed, &m.Tested, &m.Feasible, &m.Accepted}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		m.Elapsed = time.Duration(elapsed) * time.Millisecond
		moves = append(moves, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return moves, nil
}
