package repository

import (
	"database/sql"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
)

// InsertTour 在一个事务中写入 tour、所有家庭以及它们的偏好
func (r *Repository) InsertTour(tour *domain.Tour) error {
	ctx, cancel := r.transactionContext()
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO tours (name, description, days, min_attendance, max_attendance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, version
	`
	args := []any{tour.Name, tour.Description, tour.Days, tour.MinAttendance, tour.MaxAttendance}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&tour.ID, &tour.CreatedAt, &tour.Version); err != nil {
		return err
	}

	// 一个 tour 通常有几千个家庭，预编译之后逐行插入
	familyStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO families (tour_id, family_id, people, contact_name, contact_handle)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return err
	}
	defer familyStmt.Close()

	choiceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO family_choices (tour_id, family_id, rank, day)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return err
	}
	defer choiceStmt.Close()

	for _, family := range tour.Families {
		if _, err := familyStmt.ExecContext(ctx, tour.ID, family.ID, family.People, family.ContactName, family.ContactHandle); err != nil {
			return err
		}
		for rank, day := range family.Choices {
			if _, err := choiceStmt.ExecContext(ctx, tour.ID, family.ID, rank, day); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetTourByID 返回 tour 以及按家庭编号排序的所有家庭
func (r *Repository) GetTourByID(id int64) (*domain.Tour, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `
		SELECT name, description, days, min_attendance, max_attendance, created_at, version
		FROM tours WHERE id = $1
	`

	tour := &domain.Tour{ID: id}
	dst := []any{&tour.Name, &tour.Description, &tour.Days, &tour.MinAttendance, &tour.MaxAttendance, &tour.CreatedAt, &tour.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(dst...); err != nil {
		return nil, err
	}

	query = `
		SELECT f.family_id, f.people, f.contact_name, f.contact_handle, c.day
		FROM families f
		LEFT JOIN family_choices c ON c.tour_id = f.tour_id AND c.family_id = f.family_id
		WHERE f.tour_id = $1
		ORDER BY f.family_id, c.rank
	`

	rows, err := r.dbpool.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tour.Families = make([]domain.Family, 0)
	for rows.Next() {
		var row struct {
			FamilyID      int32
			People        int32
			ContactName   string
			ContactHandle string
			Day           sql.NullInt32
		}
		if err := rows.Scan(&row.FamilyID, &row.People, &row.ContactName, &row.ContactHandle, &row.Day); err != nil {
			return nil, err
		}

		// 结果按家庭编号排序，同一个家庭的行是连续的
		n := len(tour.Families)
		if n == 0 || tour.Families[n-1].ID != row.FamilyID {
			tour.Families = append(tour.Families, domain.Family{
				ID:            row.FamilyID,
				People:        row.People,
				ContactName:   row.ContactName,
				ContactHandle: row.ContactHandle,
				Choices:       make([]int32, 0, 10),
			})
			n++
		}

		if row.Day.Valid {
			tour.Families[n-1].Choices = append(tour.Families[n-1].Choices, row.Day.Int32)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tour, nil
}

func (r *Repository) GetAllTours() ([]*domain.TourMeta, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `
		SELECT t.id, t.name, t.description, t.days, t.min_attendance, t.max_attendance, t.created_at,
			COUNT(f.family_id), COALESCE(SUM(f.people), 0)
		FROM tours t
		LEFT JOIN families f ON f.tour_id = t.id
		GROUP BY t.id
		ORDER BY t.created_at DESC
	`

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tours := make([]*domain.TourMeta, 0)
	for rows.Next() {
		t := &domain.TourMeta{}
		dst := []any{&t.ID, &t.Name, &t.Description, &t.Days, &t.MinAttendance, &t.MaxAttendance, &t.CreatedAt, &t.FamilyCount, &t.PeopleCount}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		tours = append(tours, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tours, nil
}

func (r *Repository) DeleteTour(id int64) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `DELETE FROM tours WHERE id = $1`
	if _, err := r.dbpool.ExecContext(ctx, query, id); err != nil {
		return err
	}

	return nil
}
