package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cadenceParser — парсер расписания тиков ("@every 1m", "* * * * *").
var cadenceParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Ticker — то, что Cadence вызывает по расписанию.
type Ticker interface {
	Tick(ctx context.Context) (*TickResult, error)
}

// Cadence — внешний триггер тиков внутри daemon'а.
//
// Это только частота вызова Tick, а не расписание routines.
// Тики могут перекрываться: корректность обеспечивает аренда.
type Cadence struct {
	ticker   Ticker
	schedule cron.Schedule
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCadence создаёт Cadence. spec — cron-выражение или дескриптор.
func NewCadence(ticker Ticker, spec string, timeout time.Duration, logger *slog.Logger) (*Cadence, error) {
	schedule, err := cadenceParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse tick schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cadence{
		ticker:   ticker,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Run запускает тики и блокируется до отмены ctx.
// После отмены ждёт завершения текущих тиков.
func (c *Cadence) Run(ctx context.Context) error {
	log := cronLogger{logger: c.logger}
	cr := cron.New(
		cron.WithParser(cadenceParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log)),
	)
	cr.Schedule(c.schedule, cron.FuncJob(func() { c.tick(ctx) }))

	cr.Start()
	c.logger.Info("tick cadence started", "next", c.schedule.Next(time.Now().UTC()))

	<-ctx.Done()
	<-cr.Stop().Done()
	c.logger.Info("tick cadence stopped")
	return nil
}

func (c *Cadence) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	tctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if _, err := c.ticker.Tick(tctx); err != nil {
		c.logger.Error("scheduler tick failed", "error", err)
	}
}

// cronLogger адаптирует slog к cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
