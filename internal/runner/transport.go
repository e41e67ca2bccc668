package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultTimeout      = 8 * time.Second
	defaultMaxBodyBytes = 64 * 1024
	snippetLen          = 200
)

// Request — один исходящий HTTP-запрос.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Response — то, что runner'у нужно от ответа.
type Response struct {
	StatusCode int

	// Snippet — начало тела ответа, для сообщения об ошибке.
	Snippet string
}

// Transport — один вызов с таймаутом.
//
// Ошибка всегда оборачивает ErrTimeout или ErrNetwork.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPTransport — Transport поверх net/http.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
	maxBody int64
}

// NewHTTPTransport создаёт HTTPTransport.
// Таймаут покрывает весь вызов, включая чтение тела.
func NewHTTPTransport(timeout time.Duration, maxBody int64) *HTTPTransport {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &HTTPTransport{
		client: &http.Client{
			// Редиректы не отслеживаем: код 3xx — это результат проверки.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		maxBody: maxBody,
	}
}

// Timeout возвращает таймаут одной попытки.
func (t *HTTPTransport) Timeout() time.Duration {
	return t.timeout
}

// Do выполняет запрос.
func (t *HTTPTransport) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrNetwork, err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, t.classify(ctx, err)
	}
	defer resp.Body.Close()

	// Тело читаем ограниченно: нужен только фрагмент для сообщения,
	// остальное дочитываем, чтобы соединение вернулось в пул.
	body := io.LimitReader(resp.Body, t.maxBody)
	snippet := make([]byte, snippetLen)
	n, err := io.ReadFull(body, snippet)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, t.classify(ctx, err)
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return nil, t.classify(ctx, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Snippet:    string(snippet[:n]),
	}, nil
}

// classify сводит ошибку net/http к ErrTimeout или ErrNetwork.
func (t *HTTPTransport) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
