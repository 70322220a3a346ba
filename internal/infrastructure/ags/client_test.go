package ags

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/availability-orchestrator/internal/domain/availability"
)

func request() availability.GenerationRequest {
	return availability.GenerationRequest{
		RestaurantID: "r1",
		Start:        time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC),
	}
}

func newClient(t *testing.T, h http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestClient_ModesHitTheirEndpoints(t *testing.T) {
	var gotPaths []string
	var gotBody requestBody
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"success":true,"slotsCreated":120,"slotsDeleted":30,"slotsPreserved":4,"totalSlotsAfter":124,"openDays":26}`))
	}, Config{Token: "secret"})

	ctx := context.Background()
	res, err := c.Generate(ctx, request())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 120, res.Created())
	assert.Equal(t, 124, res.Total())
	require.NotNil(t, res.OpenDays)
	assert.Equal(t, 26, *res.OpenDays)

	_, err = c.CleanupOnly(ctx, request())
	require.NoError(t, err)
	_, err = c.CleanupAndRegenerate(ctx, request())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/restaurants/r1/availability/generate",
		"/restaurants/r1/availability/cleanup",
		"/restaurants/r1/availability/regenerate",
	}, gotPaths)
	assert.Equal(t, requestBody{StartDate: "2025-10-01", EndDate: "2025-10-31"}, gotBody)
}

func TestClient_BusinessRejectionIsAResult(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false,"code":"NO_ACTIVE_TABLES","error":"no active tables","hint":"add a table","tableCount":0}`))
	}, Config{})

	res, err := c.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "NO_ACTIVE_TABLES", res.Code)
	assert.Equal(t, "add a table", res.Hint)
}

func TestClient_RejectionWithoutJSON(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad period", http.StatusBadRequest)
	}, Config{})

	res, err := c.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "bad period", res.Error)
}

func TestClient_SuccessFieldOptional(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"slotsCreated":0}`))
	}, Config{})

	res, err := c.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Created())
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, Config{})

	_, err := c.CleanupAndRegenerate(context.Background(), request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_TimeoutIsUnavailable(t *testing.T) {
	block := make(chan struct{})
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}, Config{Timeout: 50 * time.Millisecond})
	defer close(block)

	_, err := c.Generate(context.Background(), request())
	assert.Error(t, err)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Config{FailureThreshold: 2, OpenTimeout: time.Minute})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.Generate(ctx, request())
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.State())

	_, err := c.Generate(ctx, request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int32(2), hits.Load(), "open breaker short-circuits the call")
}

func TestClient_RejectionsDoNotTripBreaker(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false,"error":"horizon too long"}`))
	}, Config{FailureThreshold: 1})

	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), request())
		require.NoError(t, err)
	}
	assert.Equal(t, "closed", c.State())
}

func TestSnippet_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", snippet([]byte("  short \n")))

	// 199 ASCII bytes then a 3-byte rune straddling the cut.
	body := strings.Repeat("a", 199) + "€" + strings.Repeat("b", 50)
	got := snippet([]byte(body))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 199)+"...", got)

	exact := strings.Repeat("€", 100)
	got = snippet([]byte(exact))
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}
