// Package runner выполняет HTTP-проверку одной routine.
//
// Один вызов Run — это набор попыток: каждая попытка ограничена таймаутом,
// между попытками выдерживается backoff, число повторов ограничено.
// Результат классифицируется в Outcome:
//
//	2xx                 → SUCCESS
//	не-2xx              → FAIL (kind=status), http_status заполнен
//	таймаут             → FAIL (kind=timeout)
//	сетевая ошибка      → FAIL (kind=network)
//	некорректный конфиг → FAIL (kind=config), без сетевого вызова и без retry
//
// В историю попадает только результат последней попытки; длительность
// считается от начала первой попытки до конца последней.
package runner
