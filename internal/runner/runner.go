package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shaiso/opspulse/internal/domain"
)

const (
	defaultBackoff    = time.Second
	defaultBackoffMax = 5 * time.Second
	userAgent         = "opspulse-scheduler/1.0"
)

// Kind — класс результата выполнения.
type Kind string

const (
	KindSuccess Kind = "success"
	KindStatus  Kind = "status"
	KindTimeout Kind = "timeout"
	KindNetwork Kind = "network"
	KindConfig  Kind = "config"
)

// Outcome — итог набора попыток.
type Outcome struct {
	Status       domain.RunStatus
	Kind         Kind
	HTTPStatus   *int
	ErrorMessage string

	// StartedAt — начало первой попытки, FinishedAt — конец последней.
	StartedAt  time.Time
	FinishedAt time.Time

	// Attempts — сколько попыток было сделано (0 для kind=config).
	Attempts int

	// Err — классифицированная ошибка последней попытки.
	Err error
}

// Duration возвращает время от начала первой попытки до конца последней.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Config — конфигурация Runner.
type Config struct {
	// Transport — по умолчанию HTTPTransport с Timeout и MaxBodyBytes.
	Transport Transport

	// Secrets — по умолчанию EnvSecrets.
	Secrets SecretResolver

	Timeout      time.Duration
	Retries      int
	Backoff      time.Duration
	BackoffMax   time.Duration
	MaxBodyBytes int64

	Logger *slog.Logger
	Now    func() time.Time
}

// Runner выполняет HTTP-проверки.
type Runner struct {
	transport  Transport
	secrets    SecretResolver
	retries    uint64
	backoff    time.Duration
	backoffMax time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.Timeout, cfg.MaxBodyBytes)
	}
	secrets := cfg.Secrets
	if secrets == nil {
		secrets = EnvSecrets{}
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	backoffMax := cfg.BackoffMax
	if backoffMax < backoff {
		backoffMax = max(backoff, defaultBackoffMax)
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Runner{
		transport:  transport,
		secrets:    secrets,
		retries:    uint64(retries),
		backoff:    backoff,
		backoffMax: backoffMax,
		logger:     logger,
		now:        now,
	}
}

// attempt — результат одной попытки.
type attempt struct {
	resp *Response
	err  error
}

// Run выполняет routine. Ошибки не возвращаются: любой исход — это Outcome.
func (r *Runner) Run(ctx context.Context, routine *domain.Routine) Outcome {
	started := r.now()

	req, err := r.buildRequest(ctx, routine)
	if err != nil {
		return Outcome{
			Status:       domain.RunStatusFail,
			Kind:         KindConfig,
			ErrorMessage: err.Error(),
			StartedAt:    started,
			FinishedAt:   r.now(),
			Err:          err,
		}
	}

	b := retry.WithMaxRetries(r.retries,
		retry.WithCappedDuration(r.backoffMax, retry.NewExponential(r.backoff)))

	var (
		last     attempt
		attempts int
	)
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		resp, err := r.transport.Do(ctx, req)
		last = attempt{resp: resp, err: err}
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			r.logger.Debug("routine attempt failed",
				"routine_id", routine.ID,
				"attempt", attempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			r.logger.Debug("routine attempt returned non-success status",
				"routine_id", routine.ID,
				"attempt", attempts,
				"http_status", resp.StatusCode,
			)
			return retry.RetryableError(fmt.Errorf("%w: HTTP %d", ErrNonSuccessStatus, resp.StatusCode))
		}
		return nil
	})

	out := Outcome{
		StartedAt:  started,
		FinishedAt: r.now(),
		Attempts:   attempts,
	}
	classify(&out, last, err)
	return out
}

// classify заполняет статус и сообщение по последней попытке.
func classify(out *Outcome, last attempt, err error) {
	if last.resp != nil {
		code := last.resp.StatusCode
		out.HTTPStatus = &code
	}

	switch {
	case err == nil:
		out.Status = domain.RunStatusSuccess
		out.Kind = KindSuccess
		return
	case last.resp != nil:
		out.Kind = KindStatus
		out.Err = fmt.Errorf("%w: HTTP %d", ErrNonSuccessStatus, last.resp.StatusCode)
		out.ErrorMessage = statusMessage(last.resp)
	case errors.Is(last.err, ErrTimeout):
		out.Kind = KindTimeout
		out.Err = last.err
		out.ErrorMessage = last.err.Error()
	case last.err != nil:
		out.Kind = KindNetwork
		out.Err = last.err
		out.ErrorMessage = last.err.Error()
	default:
		// Контекст отменён до первой попытки.
		out.Kind = KindNetwork
		out.Err = fmt.Errorf("%w: %v", ErrNetwork, err)
		out.ErrorMessage = out.Err.Error()
	}
	out.Status = domain.RunStatusFail
}

func statusMessage(resp *Response) string {
	msg := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	snippet := strings.TrimSpace(resp.Snippet)
	if snippet == "" {
		return strings.TrimSpace(msg)
	}
	return strings.TrimSpace(msg) + ": " + truncate(snippet, snippetLen)
}

// buildRequest собирает запрос, повторно проверяя конфигурацию routine.
func (r *Runner) buildRequest(ctx context.Context, routine *domain.Routine) (Request, error) {
	if err := routine.Validate(); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	header := make(http.Header, len(routine.Headers)+2)
	for name, value := range routine.Headers {
		header.Set(strings.TrimSpace(name), value)
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", userAgent)
	}

	if routine.AuthMode == domain.AuthModeSecretRef {
		secret, err := r.secrets.Resolve(ctx, routine.SecretRef)
		if err != nil {
			return Request{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		header.Set("Authorization", authorizationValue(secret))
	}

	return Request{
		Method: routine.HTTPMethod,
		URL:    routine.EndpointURL,
		Header: header,
	}, nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
