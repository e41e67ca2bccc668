package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/shaiso/opspulse/internal/domain"
)

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store — хранилище routines и истории запусков.
// Реализуется PostgresStore и SQLiteStore.
type Store interface {
	ListDueActive(ctx context.Context, now time.Time, slack time.Duration, limit int) ([]domain.Routine, error)
	TryClaim(ctx context.Context, claim domain.Claim) (*domain.Routine, bool, error)
	ReleaseIfHeld(ctx context.Context, routineID uuid.UUID, holder string) error
	UpdateScheduleAndRelease(ctx context.Context, upd domain.ScheduleUpdate) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Routine, error)
	Create(ctx context.Context, routine *domain.Routine) error

	AppendRun(ctx context.Context, run *domain.RoutineRun) error
	RecordRun(ctx context.Context, run *domain.RoutineRun, upd domain.ScheduleUpdate) error
	ListByRoutine(ctx context.Context, routineID uuid.UUID, limit int) ([]domain.RoutineRun, error)

	Ping(ctx context.Context) error
	Close() error
}

// Options — параметры открытия хранилища.
type Options struct {
	Driver   string
	DSN      string
	MaxConns int32
	Migrate  bool
}

// Open открывает хранилище по драйверу и при необходимости применяет миграции.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverPostgres, "":
		pool, err := NewPool(ctx, opts.DSN, opts.MaxConns)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			if err := migratePool(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return NewPostgresStore(pool), nil

	case DriverSQLite:
		db, err := OpenSQLite(ctx, opts.DSN)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			if _, err := Migrate(ctx, db, DriverSQLite); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return NewSQLiteStore(db), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// migratePool применяет миграции через database/sql поверх пула pgx.
func migratePool(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	_, err := Migrate(ctx, db, DriverPostgres)
	return err
}

// PostgresStore объединяет RoutineRepo и RunRepo поверх одного пула.
type PostgresStore struct {
	*RoutineRepo
	*RunRepo
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		RoutineRepo: NewRoutineRepo(pool),
		RunRepo:     NewRunRepo(pool),
		pool:        pool,
	}
}

// Pool возвращает пул соединений (для метрик).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping проверяет доступность БД.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает пул.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// MigrateOnly открывает хранилище, применяет миграции и закрывает его.
// Используется командой migrate CLI.
func MigrateOnly(ctx context.Context, opts Options) (int, error) {
	switch opts.Driver {
	case DriverPostgres, "":
		pool, err := NewPool(ctx, opts.DSN, opts.MaxConns)
		if err != nil {
			return 0, err
		}
		defer pool.Close()
		db := stdlib.OpenDBFromPool(pool)
		defer db.Close()
		return Migrate(ctx, db, DriverPostgres)
	case DriverSQLite:
		db, err := OpenSQLite(ctx, opts.DSN)
		if err != nil {
			return 0, err
		}
		defer db.Close()
		return Migrate(ctx, db, DriverSQLite)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
