package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlane-dev/freegate/internal/breaker"
	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/health"
	"github.com/openlane-dev/freegate/internal/provider"
	"github.com/openlane-dev/freegate/internal/ratelimit"
	"github.com/openlane-dev/freegate/internal/router"
	"github.com/openlane-dev/freegate/internal/routeerr"
	"github.com/openlane-dev/freegate/internal/selector"
	"github.com/openlane-dev/freegate/internal/shutdown"
	"github.com/openlane-dev/freegate/internal/state"
)

type fakeAdapter struct{ name string }

func (a fakeAdapter) Name() string { return a.name }

func (a fakeAdapter) ChatCompletion(ctx context.Context, params provider.Params) (*provider.Result, error) {
	content := "hello"
	return &provider.Result{Content: &content, FinishReason: provider.FinishStop, Usage: provider.Usage{TotalTokens: 3}}, nil
}

func (a fakeAdapter) ChatCompletionStream(ctx context.Context, params provider.Params) (provider.ChunkStream, error) {
	return nil, routeerr.New(routeerr.KindOther, a.name, params.UpstreamModel, "not implemented")
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	defs := []catalog.ModelDefinition{
		{Name: "A", Provider: "prov", Model: "upstream-a", Available: true, Weight: 10},
	}
	reg, err := catalog.NewFromDefinitions(defs)
	require.NoError(t, err)
	store := state.NewMemory()
	br := breaker.New(store, breaker.Config{}, nil)
	h := health.New(store, time.Hour, nil)
	rl := ratelimit.New(time.Hour, nil)
	sc := shutdown.New(nil)
	sel := selector.New(reg, br, store, nil)

	r := router.New(reg, sel, br, h, rl, sc, map[string]provider.Adapter{"prov": fakeAdapter{name: "prov"}}, nil)
	return New(r, store, br, rl, router.Options{}, nil)
}

func TestHandleChatCompletions_HappyPath(t *testing.T) {
	srv := newTestServer(t)

	body := []byte(`{"messages":[{"role":"user","content":"hi"}],"model":"A"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "A", out.Router.ModelName)
	assert.Equal(t, 1, out.Router.Attempts)
}

func TestHandleChatCompletions_RejectsMalformedModel(t *testing.T) {
	srv := newTestServer(t)

	body := []byte(`{"messages":[{"role":"user","content":"hi"}],"model":42}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAdminState_ListsNothingInitially(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/state", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestHandleAdminResetState_Returns204(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/state/A/reset", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleAdminRateLimits_ReportsBucketCount(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/rate-limits", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "active_buckets")
}
