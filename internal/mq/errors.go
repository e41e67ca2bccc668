package mq

import "errors"

var (
	// ErrNoChannel — канал недоступен (соединение в процессе переподключения).
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrDrop — сообщение обработать невозможно, повтор не поможет.
	// Consumer отправляет такое сообщение в DLQ.
	ErrDrop = errors.New("drop message")
)
