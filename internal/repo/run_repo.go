package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/opspulse/internal/domain"
)

const runColumns = `
	id, routine_id, triggered_by, status, http_status, duration_ms,
	error_message, started_at, finished_at, created_at`

// RunRepo — append-only история запусков в PostgreSQL.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// AppendRun добавляет run. Обновления и удаления нет.
func (r *RunRepo) AppendRun(ctx context.Context, run *domain.RoutineRun) error {
	return insertRun(ctx, r.pool, run)
}

// ListByRoutine возвращает последние runs routine, новые первыми.
func (r *RunRepo) ListByRoutine(ctx context.Context, routineID uuid.UUID, limit int) ([]domain.RoutineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + runColumns + `
		FROM routine_runs
		WHERE routine_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, routineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RoutineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

func insertRun(ctx context.Context, db execer, run *domain.RoutineRun) error {
	query := `
		INSERT INTO routine_runs (id, routine_id, triggered_by, status, http_status,
		                          duration_ms, error_message, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := db.Exec(ctx, query,
		run.ID,
		run.RoutineID,
		run.TriggeredBy,
		run.Status,
		run.HTTPStatus,
		run.DurationMs,
		nullString(run.ErrorMessage),
		run.StartedAt,
		run.FinishedAt,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func scanRun(rows pgx.Rows) (*domain.RoutineRun, error) {
	var (
		run    domain.RoutineRun
		errMsg *string
	)
	err := rows.Scan(
		&run.ID,
		&run.RoutineID,
		&run.TriggeredBy,
		&run.Status,
		&run.HTTPStatus,
		&run.DurationMs,
		&errMsg,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.ErrorMessage = derefString(errMsg)
	return &run, nil
}

var (
	_ execer = (pgx.Tx)(nil)
	_ execer = (*pgxpool.Pool)(nil)
)
