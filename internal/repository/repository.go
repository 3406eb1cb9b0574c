package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/config"
)

//go:embed schema.sql
var schema string

type Repository struct {
	cfg    *config.Config
	dbpool *sql.DB
}

func NewRepository(cfg *config.Config, dbpool *sql.DB) *Repository {
	return &Repository{
		cfg:    cfg,
		dbpool: dbpool,
	}
}

// EnsureSchema 创建所有不存在的表，可以重复执行
func (r *Repository) EnsureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	_, err := r.dbpool.ExecContext(ctx, schema)
	return err
}

func (r *Repository) queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
}

func (r *Repository) transactionContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
}

type scanner interface {
	Scan(dest ...any) error
}
