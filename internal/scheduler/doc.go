// Package scheduler находит due routines, захватывает их арендой,
// выполняет с ограниченной параллельностью и записывает результат.
//
// Структура:
//   - slot.go       — арифметика слотов (усечение до минуты, следующий слот)
//   - selector.go   — due-выборка
//   - lease.go      — аренда routine поверх условной записи в хранилище
//   - dispatcher.go — ограничение числа одновременных выполнений
//   - recorder.go   — запись run, сдвиг next_run_at, снятие аренды
//   - scheduler.go  — Tick и TriggerManual
//   - cadence.go    — вызов Tick по расписанию внутри daemon'а
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Routines: store,
//	    Runs:     store,
//	    Runner:   runner.New(runner.Config{Timeout: 8 * time.Second, Retries: 1}),
//	    Logger:   logger,
//	})
//
//	// Вызывается внешним триггером (раз в минуту)
//	res, err := sched.Tick(ctx)
//
// Leader election не нужен: тики разных инстансов могут перекрываться,
// одновременное выполнение одной routine исключает аренда.
package scheduler
