package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/opspulse/internal/domain"
)

// SQLiteStore — хранилище routines и runs в SQLite (modernc, без cgo).
//
// Для одиночного инстанса, разработки и тестов. Семантика условных
// UPDATE та же, что у PostgreSQL; времена хранятся в unix ms.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore создаёт SQLiteStore поверх открытой и смигрированной БД.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Ping проверяет доступность БД.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает БД.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create создаёт routine. next_run_at усекается до минуты.
func (s *SQLiteStore) Create(ctx context.Context, routine *domain.Routine) error {
	headersJSON, err := marshalHeaders(routine.Headers)
	if err != nil {
		return err
	}
	createdAt, updatedAt := routine.CreatedAt, routine.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routines (id, workspace_id, name, kind, interval_minutes, endpoint_url,
		                      http_method, headers, auth_mode, secret_ref, is_active,
		                      next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		routine.ID.String(),
		routine.WorkspaceID.String(),
		routine.Name,
		string(routine.Kind),
		routine.IntervalMinutes,
		routine.EndpointURL,
		routine.HTTPMethod,
		string(headersJSON),
		string(routine.AuthMode),
		nullString(routine.SecretRef),
		routine.IsActive,
		routine.NextRunAt.Truncate(time.Minute).UnixMilli(),
		createdAt.UnixMilli(),
		updatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert routine: %w", err)
	}
	return nil
}

// GetByID возвращает routine по ID.
func (s *SQLiteStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Routine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+routineColumns+` FROM routines WHERE id = ?`, id.String())
	return scanSQLiteRoutine(row)
}

// ListDueActive возвращает активные due routines со свободной или истёкшей арендой.
func (s *SQLiteStore) ListDueActive(ctx context.Context, now time.Time, slack time.Duration, limit int) ([]domain.Routine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+routineColumns+`
		FROM routines
		WHERE is_active = 1
		  AND next_run_at <= ?
		  AND (lock_until IS NULL OR lock_until < ?)
		ORDER BY next_run_at ASC
		LIMIT ?`,
		now.Add(slack).UnixMilli(), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due routines: %w", err)
	}
	defer rows.Close()

	var routines []domain.Routine
	for rows.Next() {
		routine, err := scanSQLiteRoutine(rows)
		if err != nil {
			return nil, err
		}
		routines = append(routines, *routine)
	}
	return routines, rows.Err()
}

// TryClaim атомарно захватывает аренду. Проигрыш гонки — (nil, false, nil).
func (s *SQLiteStore) TryClaim(ctx context.Context, claim domain.Claim) (*domain.Routine, bool, error) {
	expected := msOrNil(claim.ExpectedNextRunAt)
	row := s.db.QueryRowContext(ctx, `
		UPDATE routines
		SET lock_until = ?, locked_by = ?
		WHERE id = ?
		  AND (lock_until IS NULL OR lock_until < ?)
		  AND (? IS NULL OR (is_active = 1 AND next_run_at = ?))
		RETURNING `+routineColumns,
		claim.LockUntil().UnixMilli(),
		claim.Holder,
		claim.RoutineID.String(),
		claim.Now.UnixMilli(),
		expected, expected,
	)
	routine, err := scanSQLiteRoutine(row)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim routine: %w", err)
	}
	return routine, true, nil
}

// ReleaseIfHeld снимает аренду, если её держит holder.
func (s *SQLiteStore) ReleaseIfHeld(ctx context.Context, routineID uuid.UUID, holder string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE routines SET lock_until = NULL, locked_by = NULL
		WHERE id = ? AND locked_by = ?`,
		routineID.String(), holder,
	)
	if err != nil {
		return fmt.Errorf("release routine: %w", err)
	}
	return nil
}

// UpdateScheduleAndRelease обновляет расписание и снимает аренду одним UPDATE.
func (s *SQLiteStore) UpdateScheduleAndRelease(ctx context.Context, upd domain.ScheduleUpdate) error {
	return sqliteUpdateSchedule(ctx, s.db, upd)
}

// AppendRun добавляет run.
func (s *SQLiteStore) AppendRun(ctx context.Context, run *domain.RoutineRun) error {
	return sqliteInsertRun(ctx, s.db, run)
}

// RecordRun в одной транзакции добавляет run и обновляет расписание.
// При перехваченной аренде run фиксируется, возвращается ErrLeaseLost.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *domain.RoutineRun, upd domain.ScheduleUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := sqliteInsertRun(ctx, tx, run); err != nil {
		return err
	}
	leaseErr := sqliteUpdateSchedule(ctx, tx, upd)
	if leaseErr != nil && !errors.Is(leaseErr, ErrLeaseLost) {
		return leaseErr
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return leaseErr
}

// ListByRoutine возвращает последние runs routine, новые первыми.
func (s *SQLiteStore) ListByRoutine(ctx context.Context, routineID uuid.UUID, limit int) ([]domain.RoutineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM routine_runs
		WHERE routine_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		routineID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RoutineRun
	for rows.Next() {
		var (
			run                  domain.RoutineRun
			id, routineIDStr     string
			triggeredBy, status  string
			httpStatus           *int
			durationMs           *int64
			errMsg               *string
			startedAt, createdAt int64
			finishedAt           *int64
		)
		if err := rows.Scan(&id, &routineIDStr, &triggeredBy, &status, &httpStatus, &durationMs,
			&errMsg, &startedAt, &finishedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		if run.RoutineID, err = uuid.Parse(routineIDStr); err != nil {
			return nil, fmt.Errorf("parse routine id: %w", err)
		}
		run.TriggeredBy = domain.ParseTriggeredBy(triggeredBy)
		run.Status = domain.ParseRunStatus(status)
		run.HTTPStatus = httpStatus
		run.DurationMs = durationMs
		run.ErrorMessage = derefString(errMsg)
		run.StartedAt = fromMs(startedAt)
		run.FinishedAt = fromNullMs(finishedAt)
		run.CreatedAt = fromMs(createdAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

// sqlExecer — общее между *sql.DB и *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func sqliteUpdateSchedule(ctx context.Context, db sqlExecer, upd domain.ScheduleUpdate) error {
	result, err := db.ExecContext(ctx, `
		UPDATE routines
		SET last_run_at = ?,
		    next_run_at = COALESCE(?, next_run_at),
		    lock_until = NULL,
		    locked_by = NULL
		WHERE id = ? AND locked_by = ?`,
		upd.LastRunAt.UnixMilli(),
		msOrNil(upd.NextRunAt),
		upd.RoutineID.String(),
		upd.Holder,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func sqliteInsertRun(ctx context.Context, db sqlExecer, run *domain.RoutineRun) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO routine_runs (id, routine_id, triggered_by, status, http_status,
		                          duration_ms, error_message, started_at, finished_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(),
		run.RoutineID.String(),
		string(run.TriggeredBy),
		string(run.Status),
		run.HTTPStatus,
		run.DurationMs,
		nullString(run.ErrorMessage),
		run.StartedAt.UnixMilli(),
		msOrNil(run.FinishedAt),
		run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func scanSQLiteRoutine(row sqlScanner) (*domain.Routine, error) {
	var (
		r                    domain.Routine
		id, workspaceID      string
		kind, authMode       string
		headersJSON          string
		secretRef, lockedBy  *string
		nextRunAt            int64
		lastRunAt, lockUntil *int64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&id,
		&workspaceID,
		&r.Name,
		&kind,
		&r.IntervalMinutes,
		&r.EndpointURL,
		&r.HTTPMethod,
		&headersJSON,
		&authMode,
		&secretRef,
		&r.IsActive,
		&nextRunAt,
		&lastRunAt,
		&lockUntil,
		&lockedBy,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan routine: %w", err)
	}

	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse routine id: %w", err)
	}
	if r.WorkspaceID, err = uuid.Parse(workspaceID); err != nil {
		return nil, fmt.Errorf("parse workspace id: %w", err)
	}
	r.Kind = domain.RoutineKind(kind)
	r.AuthMode = domain.AuthMode(authMode)
	r.SecretRef = derefString(secretRef)
	r.LockedBy = derefString(lockedBy)
	r.NextRunAt = fromMs(nextRunAt)
	r.LastRunAt = fromNullMs(lastRunAt)
	r.LockUntil = fromNullMs(lockUntil)
	r.CreatedAt = fromMs(createdAt)
	r.UpdatedAt = fromMs(updatedAt)
	if err := unmarshalHeaders([]byte(headersJSON), &r.Headers); err != nil {
		return nil, err
	}
	return &r, nil
}
