package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/factbase/internal/baseline"
	"github.com/sells-group/factbase/internal/config"
	"github.com/sells-group/factbase/internal/debounce"
	"github.com/sells-group/factbase/internal/extract"
	"github.com/sells-group/factbase/internal/findings"
	"github.com/sells-group/factbase/internal/health"
	"github.com/sells-group/factbase/internal/materialize"
	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/propose"
	"github.com/sells-group/factbase/internal/resilience"
	"github.com/sells-group/factbase/internal/review"
	"github.com/sells-group/factbase/internal/store"
)

func newTestServer(t *testing.T, st store.Store, cfg config.ServerConfig) http.Handler {
	t.Helper()
	retry := resilience.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	extractors := extract.DefaultRegistry()
	engine := propose.NewEngine(st, propose.Config{MaxConflictRetries: 2, Retry: retry})
	deps := Deps{
		Store:      st,
		Engine:     engine,
		Extractors: extractors,
		Scheduler: baseline.New(baseline.Config{
			Enabled:         true,
			Debounce:        time.Minute,
			DefaultImporter: extract.ImporterWebsiteDiagnostic,
		}, baseline.Deps{
			Extractors: extractors,
			Runs:       st,
			Fields:     st,
			Engine:     engine,
			Marker:     debounce.NewMemoryMarker(100),
		}),
		Materializer: materialize.New(st, st),
		Health: health.NewEvaluator(health.Config{
			Enabled:      true,
			UpstreamKind: extract.ImporterWebsiteDiagnostic,
			StaleAfter:   24 * time.Hour,
		}, st, st, extractors),
		Review:   review.NewService(st, retry),
		Promoter: findings.NewPromoter(st, engine, findings.Config{}),
	}
	return New(cfg, deps).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	rr := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	decodeBody(t, rr, &body)
	assert.Equal(t, "ok", body["status"])
}

type unreachableStore struct {
	*store.MemoryStore
}

func (unreachableStore) Ping(context.Context) error { return eris.New("store: down") }

func TestHealthz_StoreUnavailable(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, unreachableStore{store.NewMemory()}, config.ServerConfig{})

	rr := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "unavailable")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	rr := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestPropose_Candidates(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	h := newTestServer(t, st, config.ServerConfig{})

	rr := do(t, h, http.MethodPost, "/entities/acme/proposals", map[string]any{
		"importer_id": extract.ImporterUserInput,
		"candidates": []model.Candidate{
			{Key: "company.name", Value: "Acme", Confidence: 0.9},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp proposeResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, 1, resp.Outcome.ProposedCount)
	assert.Equal(t, []string{"company.name"}, resp.Outcome.ProposedKeys)

	rr = do(t, h, http.MethodGet, "/entities/acme/fields", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fs model.FieldStore
	decodeBody(t, rr, &fs)
	require.Contains(t, fs.Fields, "company.name")
	assert.Equal(t, model.FieldStatusProposed, fs.Fields["company.name"].Status)
}

func TestPropose_RawExtracted(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	rr := do(t, h, http.MethodPost, "/entities/acme/proposals", map[string]any{
		"importer_id": extract.ImporterWebsiteDiagnostic,
		"source_id":   "run-1",
		"raw":         map[string]any{"fields": map[string]any{"website.score": 72, "brand.voice": "calm"}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp proposeResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, extract.PathFieldsMap, resp.ExtractionPath)
	assert.Equal(t, []string{"website.score"}, resp.Outcome.ProposedKeys)
	require.NotNil(t, resp.Skipped)
	assert.Equal(t, 1, resp.Skipped.WrongDomain)
}

func TestPropose_BadRequests(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	tests := []struct {
		name string
		body any
		want string
	}{
		{name: "invalid json", body: "{", want: "invalid request body"},
		{name: "missing importer", body: map[string]any{"candidates": []any{}}, want: "importer_id is required"},
		{name: "unknown importer", body: map[string]any{"importer_id": "nope", "raw": map[string]any{}}, want: "unknown importer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/entities/acme/proposals", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.want)
		})
	}
}

func TestGetFields_NotFound(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	rr := do(t, h, http.MethodGet, "/entities/ghost/fields", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/entities/ghost/graph", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunBaselineHealthFlow(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	rr := do(t, h, http.MethodPost, "/entities/acme/runs", map[string]any{
		"id":         "run-1",
		"kind":       extract.ImporterWebsiteDiagnostic,
		"status":     model.RunStatusComplete,
		"raw_result": map[string]any{"fields": map[string]any{"website.primary_cta": "Book a demo", "website.score": 72}},
		"baseline":   true,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created createRunResponse
	decodeBody(t, rr, &created)
	assert.Equal(t, "run-1", created.Run.ID)
	require.NotNil(t, created.Baseline)
	assert.Equal(t, 2, created.Baseline.Created)
	assert.Empty(t, created.Baseline.Skipped)

	// Same trigger again is debounced.
	rr = do(t, h, http.MethodPost, "/entities/acme/baseline", map[string]any{
		"triggered_by": "run_completed",
		"run_id":       "run-1",
		"importer_id":  extract.ImporterWebsiteDiagnostic,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var again baseline.Result
	decodeBody(t, rr, &again)
	assert.Equal(t, baseline.SkipDebounced, again.Skipped)

	rr = do(t, h, http.MethodGet, "/entities/acme/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rep health.Report
	decodeBody(t, rr, &rep)
	assert.Equal(t, health.StatusGreen, rep.Status, rep.Reasons)
	assert.Equal(t, "run-1", rep.LatestRunID)

	rr = do(t, h, http.MethodGet, "/entities", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list map[string][]string
	decodeBody(t, rr, &list)
	assert.Equal(t, []string{"acme"}, list["entities"])
}

func TestCreateRun_KindRequired(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	rr := do(t, h, http.MethodPost, "/entities/acme/runs", map[string]any{"status": "complete"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "kind is required")
}

func TestConfirmRejectMaterialize(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	rr := do(t, h, http.MethodPost, "/entities/acme/proposals", map[string]any{
		"importer_id": extract.ImporterUserInput,
		"source":      "onboarding",
		"candidates": []model.Candidate{
			{Key: "company.name", Value: "Acme", Confidence: 0.9},
			{Key: "brand.voice", Value: "calm", Confidence: 0.8},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodPost, "/entities/acme/confirm", decisionRequest{
		Keys: []string{"company.name", "offer.primary_offer"}, Actor: "ana",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var confirmed review.Result
	decodeBody(t, rr, &confirmed)
	assert.Equal(t, []string{"company.name"}, confirmed.Updated)
	assert.Equal(t, []string{"offer.primary_offer"}, confirmed.Missing)

	rr = do(t, h, http.MethodPost, "/entities/acme/reject", decisionRequest{
		Keys: []string{"brand.voice"}, Actor: "ana",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodPost, "/entities/acme/materialize", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var mat materialize.Result
	decodeBody(t, rr, &mat)
	assert.Equal(t, 1, mat.FieldsUpdated)
	assert.Equal(t, []string{"onboarding"}, mat.SourcesUsed)

	rr = do(t, h, http.MethodGet, "/entities/acme/graph", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var g model.Graph
	decodeBody(t, rr, &g)
	assert.JSONEq(t, `{"company":{"name":"Acme"}}`, string(g.Document))
}

func TestDecision_Validation(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	rr := do(t, h, http.MethodPost, "/entities/acme/confirm", decisionRequest{Actor: "ana"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "keys are required")

	rr = do(t, h, http.MethodPost, "/entities/acme/reject", decisionRequest{Keys: []string{"a.b"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "actor is required")
}

func TestPromoteFinding(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{})

	body := promoteRequest{
		Finding: model.Finding{
			FindingID:   "f-1",
			Title:       "Weak call to action",
			Description: "Primary CTA is below the fold",
			Confidence:  0.7,
		},
		Targets: []string{"website.primary_cta"},
		Actor:   "ana",
	}
	rr := do(t, h, http.MethodPost, "/entities/acme/findings/promote", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res findings.PromoteResult
	decodeBody(t, rr, &res)
	assert.Equal(t, model.PromotionPromoted, res.Finding.PromotionStatus)
	assert.Equal(t, 1, res.Outcome.ProposedCount)

	rr = do(t, h, http.MethodPost, "/entities/acme/findings/promote", body)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &res)
	assert.Equal(t, model.PromotionDuplicate, res.Finding.PromotionStatus)
	assert.Equal(t, []string{"website.primary_cta"}, res.Skipped)

	body.Targets = nil
	rr = do(t, h, http.MethodPost, "/entities/acme/findings/promote", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "no target fields")
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{RateLimitPerSec: 0.001, RateLimitBurst: 1})

	rr := do(t, h, http.MethodGet, "/entities", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/entities", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// Liveness is never limited.
	rr = do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, store.NewMemory(), config.ServerConfig{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/entities", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
