package propose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/resilience"
	"github.com/sells-group/factbase/internal/store"
	"github.com/sells-group/factbase/internal/store/mocks"
)

var fixedNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MaxConflictRetries: 3,
		Retry:              resilience.Policy{InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}
}

func newTestEngine(t *testing.T, repo store.FieldStoreRepo) *Engine {
	t.Helper()
	e := NewEngine(repo, testConfig())
	e.now = func() time.Time { return fixedNow }
	return e
}

func request(cands ...model.Candidate) Request {
	return Request{
		EntityID:       "acme",
		ImporterID:     "website_diagnostic",
		SourceID:       "run-1",
		ExtractionPath: "fields_map",
		Candidates:     cands,
	}
}

func cand(key string, value any, conf float64) model.Candidate {
	return model.Candidate{Key: key, Value: value, Confidence: conf, Source: "website_diagnostic", EvidenceText: "seen on homepage"}
}

func load(t *testing.T, s store.FieldStoreRepo) *model.FieldStore {
	t.Helper()
	fs, err := s.LoadFieldStore(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, fs)
	return fs
}

func TestPropose_Idempotent(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	e := newTestEngine(t, s)
	req := request(
		cand("website.score", 72, 0.8),
		cand("website.primary_cta", "Book a demo", 0.7),
		cand("website.pages", []any{"home", "pricing"}, 0.6),
	)

	first := e.Propose(context.Background(), req)
	assert.Equal(t, 3, first.ProposedCount)
	assert.Equal(t, 0, first.BlockedCount)
	assert.Equal(t, []string{"website.score", "website.primary_cta", "website.pages"}, first.ProposedKeys)
	assert.Empty(t, first.Errors)

	second := e.Propose(context.Background(), req)
	assert.Equal(t, 0, second.ProposedCount)
	assert.Equal(t, 3, second.BlockedCount)
	assert.Equal(t, 0, second.ReplacedCount)
	assert.ElementsMatch(t, []string{"website.score", "website.primary_cta", "website.pages"}, second.BlockedKeys)

	fs := load(t, s)
	assert.Equal(t, int64(1), fs.Meta.Version)
	assert.Equal(t, 3, fs.CountByStatus().Proposed)
}

func TestPropose_ConfirmedIsImmutable(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	e := newTestEngine(t, s)
	ctx := context.Background()

	e.Propose(ctx, request(cand("website.score", 50, 0.5)))
	fs := load(t, s)
	fs.Get("website.score").Status = model.FieldStatusConfirmed
	require.NoError(t, s.SaveFieldStore(ctx, fs))

	for _, c := range []model.Candidate{
		cand("website.score", 90, 1.0),
		cand("website.score", 50, 0.99),
		cand("website.score", 10, 0.01),
	} {
		out := e.Propose(ctx, request(c))
		assert.Equal(t, []string{"website.score"}, out.BlockedKeys)
		assert.Zero(t, out.ProposedCount+out.ReplacedCount)
	}

	rec := load(t, s).Get("website.score")
	assert.Equal(t, model.FieldStatusConfirmed, rec.Status)
	assert.InDelta(t, 50.0, rec.Value, 1e-9)
}

func TestPropose_ReplacesProposed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		delta        float64
		next         model.Candidate
		wantReplaced bool
	}{
		{"different value", 0, cand("brand.voice", "warm", 0.1), true},
		{"same value higher confidence", 0, cand("brand.voice", "plain", 0.61), true},
		{"same value same confidence", 0, cand("brand.voice", "plain", 0.6), false},
		{"same value lower confidence", 0, cand("brand.voice", "plain", 0.3), false},
		{"increase inside delta", 0.1, cand("brand.voice", "plain", 0.65), false},
		{"increase beyond delta", 0.1, cand("brand.voice", "plain", 0.75), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := store.NewMemory()
			cfg := testConfig()
			cfg.ReplaceConfidenceDelta = tt.delta
			e := NewEngine(s, cfg)
			ctx := context.Background()

			req := request(cand("brand.voice", "plain", 0.6))
			req.ImporterID = "brand_diagnostic"
			e.Propose(ctx, req)

			req.Candidates = []model.Candidate{tt.next}
			req.SourceID = "run-2"
			out := e.Propose(ctx, req)

			rec := load(t, s).Get("brand.voice")
			if tt.wantReplaced {
				assert.Equal(t, 1, out.ReplacedCount)
				assert.Equal(t, []string{"brand.voice"}, out.ReplacedKeys)
				assert.Equal(t, tt.next.Value, rec.Value)
				assert.Equal(t, "run-2", rec.Evidence.SourceID)
				require.Len(t, rec.History, 1)
				assert.Equal(t, ReasonReplaced, rec.History[0].Reason)
				assert.Equal(t, "run-1", rec.History[0].SourceID)
			} else {
				assert.Equal(t, 1, out.BlockedCount)
				assert.Equal(t, "plain", rec.Value)
				assert.Equal(t, "run-1", rec.Evidence.SourceID)
				assert.Empty(t, rec.History)
			}
		})
	}
}

func TestPropose_ValueEqualityIsStructural(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	e := newTestEngine(t, s)
	ctx := context.Background()

	e.Propose(ctx, request(
		cand("website.score", 72, 0.5),
		cand("website.meta", map[string]any{"a": 1, "b": []any{"x"}}, 0.5),
	))
	out := e.Propose(ctx, request(
		cand("website.score", 72.0, 0.5),
		cand("website.meta", map[string]any{"b": []string{"x"}, "a": 1.0}, 0.5),
	))
	assert.Equal(t, 2, out.BlockedCount)
	assert.Zero(t, out.ReplacedCount)
}

func TestPropose_RejectedIsReproposed(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	e := newTestEngine(t, s)
	ctx := context.Background()

	e.Propose(ctx, request(cand("offer.primary_offer", "Audit", 0.9)))
	fs := load(t, s)
	rec := fs.Get("offer.primary_offer")
	rec.Status = model.FieldStatusRejected
	decided := fixedNow
	rec.DecidedAt = &decided
	rec.DecidedBy = "reviewer@acme.com"
	require.NoError(t, s.SaveFieldStore(ctx, fs))

	req := request(cand("offer.primary_offer", "Audit", 0.4))
	req.ImporterID = "user_input"
	out := e.Propose(ctx, req)
	assert.Equal(t, 1, out.ProposedCount)
	assert.Equal(t, []string{"offer.primary_offer"}, out.ProposedKeys)

	got := load(t, s).Get("offer.primary_offer")
	assert.Equal(t, model.FieldStatusProposed, got.Status)
	assert.Nil(t, got.DecidedAt)
	assert.Empty(t, got.DecidedBy)
	require.Len(t, got.History, 1)
	assert.Equal(t, model.FieldStatusRejected, got.History[0].Status)
	assert.Equal(t, ReasonReproposed, got.History[0].Reason)
}

func TestPropose_EvidenceRecorded(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	e := newTestEngine(t, s)

	c := cand("website.primary_cta", "Book a demo", 1.7)
	c.CanonicalHash = "0123456789abcdef"
	e.Propose(context.Background(), request(c))

	rec := load(t, s).Get("website.primary_cta")
	assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
	assert.Equal(t, fixedNow, rec.UpdatedAt)
	assert.Equal(t, &model.Evidence{
		Source:        "website_diagnostic",
		SourceID:      "run-1",
		ImporterID:    "website_diagnostic",
		Text:          "seen on homepage",
		Pointer:       "fields_map",
		CanonicalHash: "0123456789abcdef",
	}, rec.Evidence)
}

func TestPropose_BadCandidatesDoNotAbortBatch(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	e := newTestEngine(t, s)

	out := e.Propose(context.Background(), request(
		cand("nodomain", "x", 0.5),
		cand("website.score", 80, 0.5),
		cand("website.bad", make(chan int), 0.5),
		cand("website.nil", nil, 0.5),
	))
	assert.Equal(t, 1, out.ProposedCount)
	assert.Len(t, out.Errors, 3)
	assert.Contains(t, out.Errors[0], "invalid key")
	assert.NotNil(t, load(t, s).Get("website.score"))
}

func TestPropose_DuplicateKeysInBatchApplyInOrder(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	e := newTestEngine(t, s)

	out := e.Propose(context.Background(), request(
		cand("website.score", 60, 0.5),
		cand("website.score", 60, 0.5),
		cand("website.score", 65, 0.5),
	))
	assert.Equal(t, 1, out.ProposedCount)
	assert.Equal(t, 1, out.BlockedCount)
	assert.Equal(t, 1, out.ReplacedCount)
	assert.InDelta(t, 65.0, load(t, s).Get("website.score").Value, 1e-9)
}

func TestPropose_EmptyBatchDoesNotWrite(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	e := newTestEngine(t, s)

	out := e.Propose(context.Background(), request())
	assert.Zero(t, out.ProposedCount)
	fs, err := s.LoadFieldStore(context.Background(), "acme")
	require.NoError(t, err)
	assert.Nil(t, fs)
}

func TestPropose_MissingEntity(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, store.NewMemory())
	req := request(cand("website.score", 1, 1))
	req.EntityID = ""

	out, err := e.ProposeE(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Len(t, out.Errors, 1)
}

func TestPropose_LoadFailure(t *testing.T) {
	t.Parallel()
	m := mocks.NewMockStore(t)
	m.On("LoadFieldStore", mock.Anything, "acme").Return(nil, errors.New("permission denied")).Once()
	e := newTestEngine(t, m)

	out, err := e.ProposeE(context.Background(), request(cand("website.score", 1, 1)))
	require.Error(t, err)
	assert.Zero(t, out.ProposedCount)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "load field store")
}

func TestPropose_SaveFailureResetsCounts(t *testing.T) {
	t.Parallel()
	m := mocks.NewMockStore(t)
	m.On("LoadFieldStore", mock.Anything, "acme").Return(nil, nil).Once()
	m.On("SaveFieldStore", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	e := newTestEngine(t, m)

	out, err := e.ProposeE(context.Background(), request(
		cand("website.score", 1, 1),
		cand("bogus", 1, 1),
	))
	require.Error(t, err)
	assert.Zero(t, out.ProposedCount)
	assert.Empty(t, out.ProposedKeys)
	require.Len(t, out.Errors, 2)
	assert.Contains(t, out.Errors[1], "disk full")
}

func TestPropose_RetriesVersionConflict(t *testing.T) {
	t.Parallel()
	m := mocks.NewMockStore(t)
	m.On("LoadFieldStore", mock.Anything, "acme").Return(nil, nil).Twice()
	m.On("SaveFieldStore", mock.Anything, mock.Anything).Return(store.ErrVersionConflict).Once()
	m.On("SaveFieldStore", mock.Anything, mock.Anything).Return(nil).Once()
	e := newTestEngine(t, m)

	out, err := e.ProposeE(context.Background(), request(cand("website.score", 1, 1)))
	require.NoError(t, err)
	assert.Equal(t, 1, out.ProposedCount)
}

func TestPropose_GivesUpAfterConflictRetries(t *testing.T) {
	t.Parallel()
	m := mocks.NewMockStore(t)
	m.On("LoadFieldStore", mock.Anything, "acme").Return(nil, nil).Times(4)
	m.On("SaveFieldStore", mock.Anything, mock.Anything).Return(store.ErrVersionConflict).Times(4)
	e := newTestEngine(t, m)

	out, err := e.ProposeE(context.Background(), request(cand("website.score", 1, 1)))
	require.ErrorIs(t, err, store.ErrVersionConflict)
	assert.Zero(t, out.ProposedCount)
}

func TestPropose_ConcurrentBatchesBothLand(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	e := newTestEngine(t, s)
	ctx := context.Background()

	done := make(chan *model.ProposalOutcome, 2)
	go func() { done <- e.Propose(ctx, request(cand("website.score", 1, 1))) }()
	go func() { done <- e.Propose(ctx, request(cand("website.primary_cta", "Buy", 1))) }()
	for i := 0; i < 2; i++ {
		out := <-done
		assert.Empty(t, out.Errors)
	}

	fs := load(t, s)
	assert.NotNil(t, fs.Get("website.score"))
	assert.NotNil(t, fs.Get("website.primary_cta"))
}
