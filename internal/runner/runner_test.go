package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/opspulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoutine(url string) *domain.Routine {
	return &domain.Routine{
		ID:              uuid.New(),
		WorkspaceID:     uuid.New(),
		Name:            "health",
		Kind:            domain.RoutineKindHTTPCheck,
		IntervalMinutes: 5,
		EndpointURL:     url,
		HTTPMethod:      http.MethodGet,
		AuthMode:        domain.AuthModeNone,
		IsActive:        true,
	}
}

func fastRunner(retries int) *Runner {
	return New(Config{
		Timeout:    500 * time.Millisecond,
		Retries:    retries,
		Backoff:    time.Millisecond,
		BackoffMax: 2 * time.Millisecond,
	})
}

// --- Classification Tests ---

func TestRun_Success(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "yes", r.Header.Get("X-Check"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	routine := testRoutine(server.URL)
	routine.Headers = map[string]string{"X-Check": "yes"}

	out := fastRunner(1).Run(context.Background(), routine)

	assert.Equal(t, domain.RunStatusSuccess, out.Status)
	assert.Equal(t, KindSuccess, out.Kind)
	require.NotNil(t, out.HTTPStatus)
	assert.Equal(t, http.StatusOK, *out.HTTPStatus)
	assert.Empty(t, out.ErrorMessage)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.False(t, out.FinishedAt.Before(out.StartedAt))
}

func TestRun_NonSuccessStatusRetriedThenFails(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "maintenance")
	}))
	defer server.Close()

	out := fastRunner(1).Run(context.Background(), testRoutine(server.URL))

	assert.Equal(t, domain.RunStatusFail, out.Status)
	assert.Equal(t, KindStatus, out.Kind)
	require.NotNil(t, out.HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, *out.HTTPStatus)
	assert.Contains(t, out.ErrorMessage, "HTTP 503")
	assert.Contains(t, out.ErrorMessage, "maintenance")
	assert.ErrorIs(t, out.Err, ErrNonSuccessStatus)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRun_RetrySucceedsOnSecondAttempt(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	out := fastRunner(1).Run(context.Background(), testRoutine(server.URL))

	assert.Equal(t, domain.RunStatusSuccess, out.Status)
	require.NotNil(t, out.HTTPStatus)
	assert.Equal(t, http.StatusNoContent, *out.HTTPStatus)
	assert.Equal(t, 2, out.Attempts)
}

func TestRun_TimeoutOnBothAttempts(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	r := New(Config{
		Timeout:    50 * time.Millisecond,
		Retries:    1,
		Backoff:    time.Millisecond,
		BackoffMax: time.Millisecond,
	})
	out := r.Run(context.Background(), testRoutine(server.URL))

	assert.Equal(t, domain.RunStatusFail, out.Status)
	assert.Equal(t, KindTimeout, out.Kind)
	assert.Nil(t, out.HTTPStatus)
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.Contains(t, out.ErrorMessage, "timeout")
	assert.Equal(t, 2, out.Attempts)
	assert.GreaterOrEqual(t, out.Duration(), 100*time.Millisecond)
}

func TestRun_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	out := fastRunner(0).Run(context.Background(), testRoutine(url))

	assert.Equal(t, domain.RunStatusFail, out.Status)
	assert.Equal(t, KindNetwork, out.Kind)
	assert.Nil(t, out.HTTPStatus)
	assert.ErrorIs(t, out.Err, ErrNetwork)
	assert.Equal(t, 1, out.Attempts)
}

func TestRun_RedirectIsNotFollowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer server.Close()

	out := fastRunner(0).Run(context.Background(), testRoutine(server.URL))

	assert.Equal(t, domain.RunStatusFail, out.Status)
	require.NotNil(t, out.HTTPStatus)
	assert.Equal(t, http.StatusFound, *out.HTTPStatus)
}

// --- Configuration Tests ---

func TestRun_InvalidConfigMakesNoCall(t *testing.T) {
	transport := &countingTransport{}
	r := New(Config{Transport: transport, Retries: 3, Backoff: time.Millisecond})

	routine := testRoutine("http://example.com")
	routine.Headers = map[string]string{"Authorization": "Bearer leaked"}

	out := r.Run(context.Background(), routine)

	assert.Equal(t, domain.RunStatusFail, out.Status)
	assert.Equal(t, KindConfig, out.Kind)
	assert.ErrorIs(t, out.Err, ErrInvalidConfig)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, 0, transport.calls)
}

func TestRun_SecretRefSetsAuthorization(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer server.Close()

	r := New(Config{
		Timeout: time.Second,
		Secrets: EnvSecrets{Lookup: func(key string) (string, bool) {
			if key == "OPSPULSE_SECRET_BILLING_API" {
				return "s3cret", true
			}
			return "", false
		}},
	})

	routine := testRoutine(server.URL)
	routine.AuthMode = domain.AuthModeSecretRef
	routine.SecretRef = "billing-api"

	out := r.Run(context.Background(), routine)

	assert.Equal(t, domain.RunStatusSuccess, out.Status)
	assert.Equal(t, "Bearer s3cret", got)
}

func TestRun_MissingSecretIsConfigFailure(t *testing.T) {
	transport := &countingTransport{}
	r := New(Config{
		Transport: transport,
		Secrets:   EnvSecrets{Lookup: func(string) (string, bool) { return "", false }},
	})

	routine := testRoutine("http://example.com")
	routine.AuthMode = domain.AuthModeSecretRef
	routine.SecretRef = "missing"

	out := r.Run(context.Background(), routine)

	assert.Equal(t, KindConfig, out.Kind)
	assert.ErrorIs(t, out.Err, ErrSecretNotFound)
	assert.Equal(t, 0, transport.calls)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "BILLING_API", envName("billing-api"))
	assert.Equal(t, "A_B_C1", envName(" a.b c1 "))
}

func TestAuthorizationValue(t *testing.T) {
	assert.Equal(t, "Bearer tok", authorizationValue("tok"))
	assert.Equal(t, "Basic dXNlcg==", authorizationValue("Basic dXNlcg=="))
}

// --- Transport stubs ---

type countingTransport struct {
	calls int
	resp  *Response
	err   error
}

func (c *countingTransport) Do(ctx context.Context, req Request) (*Response, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if c.resp != nil {
		return c.resp, nil
	}
	return &Response{StatusCode: http.StatusOK}, nil
}

func TestRun_CancelledContextStopsRetries(t *testing.T) {
	transport := &countingTransport{err: fmt.Errorf("%w: connection refused", ErrNetwork)}
	r := New(Config{Transport: transport, Retries: 5, Backoff: time.Hour, BackoffMax: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := r.Run(ctx, testRoutine("http://example.com"))

	assert.Equal(t, domain.RunStatusFail, out.Status)
	assert.Equal(t, KindNetwork, out.Kind)
	assert.Equal(t, 1, transport.calls)
	assert.True(t, errors.Is(out.Err, ErrNetwork))
}
