package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/opspulse/internal/domain"
)

const routineColumns = `
	id, workspace_id, name, kind, interval_minutes, endpoint_url, http_method,
	headers, auth_mode, secret_ref, is_active, next_run_at, last_run_at,
	lock_until, locked_by, created_at, updated_at`

// RoutineRepo — репозиторий routines в PostgreSQL.
//
// Поля расписания и аренды меняются только условными UPDATE:
// конкурентные scheduler'ы разрешаются самой БД.
type RoutineRepo struct {
	pool *pgxpool.Pool
}

// NewRoutineRepo создаёт новый RoutineRepo.
func NewRoutineRepo(pool *pgxpool.Pool) *RoutineRepo {
	return &RoutineRepo{pool: pool}
}

// Create создаёт routine. next_run_at усекается до минуты.
func (r *RoutineRepo) Create(ctx context.Context, routine *domain.Routine) error {
	headersJSON, err := marshalHeaders(routine.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO routines (id, workspace_id, name, kind, interval_minutes, endpoint_url,
		                      http_method, headers, auth_mode, secret_ref, is_active,
		                      next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.pool.Exec(ctx, query,
		routine.ID,
		routine.WorkspaceID,
		routine.Name,
		routine.Kind,
		routine.IntervalMinutes,
		routine.EndpointURL,
		routine.HTTPMethod,
		headersJSON,
		routine.AuthMode,
		nullString(routine.SecretRef),
		routine.IsActive,
		routine.NextRunAt.Truncate(time.Minute),
		routine.CreatedAt,
		routine.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert routine: %w", err)
	}
	return nil
}

// GetByID возвращает routine по ID.
func (r *RoutineRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Routine, error) {
	query := `SELECT ` + routineColumns + ` FROM routines WHERE id = $1`
	return scanRoutine(r.pool.QueryRow(ctx, query, id))
}

// ListDueActive возвращает активные due routines со свободной или истёкшей арендой.
func (r *RoutineRepo) ListDueActive(ctx context.Context, now time.Time, slack time.Duration, limit int) ([]domain.Routine, error) {
	query := `
		SELECT ` + routineColumns + `
		FROM routines
		WHERE is_active
		  AND next_run_at <= $1
		  AND (lock_until IS NULL OR lock_until < $2)
		ORDER BY next_run_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, now.Add(slack), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due routines: %w", err)
	}
	defer rows.Close()

	var routines []domain.Routine
	for rows.Next() {
		routine, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		routines = append(routines, *routine)
	}
	return routines, rows.Err()
}

// TryClaim атомарно захватывает аренду.
//
// UPDATE проходит, только если аренда свободна или истекла, а для запуска
// по расписанию ещё и next_run_at совпадает с увиденным selector'ом.
// Проигрыш гонки — (nil, false, nil).
func (r *RoutineRepo) TryClaim(ctx context.Context, claim domain.Claim) (*domain.Routine, bool, error) {
	query := `
		UPDATE routines
		SET lock_until = $3, locked_by = $2
		WHERE id = $1
		  AND (lock_until IS NULL OR lock_until < $4)
		  AND ($5::timestamptz IS NULL OR (is_active AND next_run_at = $5))
		RETURNING ` + routineColumns

	routine, err := scanRoutine(r.pool.QueryRow(ctx, query,
		claim.RoutineID,
		claim.Holder,
		claim.LockUntil(),
		claim.Now,
		claim.ExpectedNextRunAt,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim routine: %w", err)
	}
	return routine, true, nil
}

// ReleaseIfHeld снимает аренду, если её держит holder.
func (r *RoutineRepo) ReleaseIfHeld(ctx context.Context, routineID uuid.UUID, holder string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE routines SET lock_until = NULL, locked_by = NULL
		WHERE id = $1 AND locked_by = $2
	`, routineID, holder)
	if err != nil {
		return fmt.Errorf("release routine: %w", err)
	}
	return nil
}

// UpdateScheduleAndRelease обновляет расписание и снимает аренду одним UPDATE.
func (r *RoutineRepo) UpdateScheduleAndRelease(ctx context.Context, upd domain.ScheduleUpdate) error {
	return updateScheduleAndRelease(ctx, r.pool, upd)
}

// RecordRun в одной транзакции добавляет run и обновляет расписание.
//
// Если аренду уже держит другой владелец, run всё равно фиксируется
// (это факт выполнения), а возвращается ErrLeaseLost.
func (r *RoutineRepo) RecordRun(ctx context.Context, run *domain.RoutineRun, upd domain.ScheduleUpdate) error {
	var leaseLost bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		err := updateScheduleAndRelease(ctx, tx, upd)
		if errors.Is(err, ErrLeaseLost) {
			leaseLost = true
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	if leaseLost {
		return ErrLeaseLost
	}
	return nil
}

// --- Helpers ---

// execer — общее между пулом и транзакцией.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateScheduleAndRelease(ctx context.Context, db execer, upd domain.ScheduleUpdate) error {
	result, err := db.Exec(ctx, `
		UPDATE routines
		SET last_run_at = $3,
		    next_run_at = COALESCE($4, next_run_at),
		    lock_until = NULL,
		    locked_by = NULL
		WHERE id = $1 AND locked_by = $2
	`, upd.RoutineID, upd.Holder, upd.LastRunAt, upd.NextRunAt)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func scanRoutine(row pgx.Row) (*domain.Routine, error) {
	var (
		r           domain.Routine
		headersJSON []byte
		secretRef   *string
		lockedBy    *string
	)
	err := row.Scan(
		&r.ID,
		&r.WorkspaceID,
		&r.Name,
		&r.Kind,
		&r.IntervalMinutes,
		&r.EndpointURL,
		&r.HTTPMethod,
		&headersJSON,
		&r.AuthMode,
		&secretRef,
		&r.IsActive,
		&r.NextRunAt,
		&r.LastRunAt,
		&r.LockUntil,
		&lockedBy,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan routine: %w", err)
	}

	r.SecretRef = derefString(secretRef)
	r.LockedBy = derefString(lockedBy)
	if err := unmarshalHeaders(headersJSON, &r.Headers); err != nil {
		return nil, err
	}
	return &r, nil
}

func marshalHeaders(headers map[string]string) ([]byte, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}
	return b, nil
}

func unmarshalHeaders(data []byte, headers *map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, headers); err != nil {
		return fmt.Errorf("unmarshal headers: %w", err)
	}
	if len(*headers) == 0 {
		*headers = nil
	}
	return nil
}
