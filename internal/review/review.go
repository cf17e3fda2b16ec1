// Package review applies human confirm and reject decisions to field records.
package review

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/resilience"
	"github.com/sells-group/factbase/internal/store"
)

// Result lists what a decision touched.
type Result struct {
	Updated []string `json:"updated"`
	// Unchanged keys already had the requested status.
	Unchanged []string `json:"unchanged"`
	// Missing keys have no record in the store.
	Missing []string `json:"missing"`
}

// Service records human decisions.
type Service struct {
	fields store.FieldStoreRepo
	retry  resilience.Policy
	now    func() time.Time
	log    *zap.Logger
}

// NewService creates a Service. Version conflicts and transient store
// errors are retried under policy.
func NewService(fields store.FieldStoreRepo, policy resilience.Policy) *Service {
	policy.Retryable = resilience.Any(
		func(err error) bool { return errors.Is(err, store.ErrVersionConflict) },
		resilience.IsTransient,
	)
	return &Service{
		fields: fields,
		retry:  policy,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "review")),
	}
}

// ConfirmFields marks keys confirmed by actor. Confirmed records are
// immune to automatic re-proposal.
func (s *Service) ConfirmFields(ctx context.Context, entityID string, keys []string, actor string) (*Result, error) {
	return s.decide(ctx, entityID, keys, actor, model.FieldStatusConfirmed)
}

// RejectFields marks keys rejected by actor. A rejected key may be proposed
// again by a later candidate.
func (s *Service) RejectFields(ctx context.Context, entityID string, keys []string, actor string) (*Result, error) {
	return s.decide(ctx, entityID, keys, actor, model.FieldStatusRejected)
}

func (s *Service) decide(ctx context.Context, entityID string, keys []string, actor string, to model.FieldStatus) (*Result, error) {
	if entityID == "" {
		return nil, eris.New("review: entity id is required")
	}
	policy := s.retry
	policy.OnRetry = resilience.RetryLogger("review", "save field store")

	res, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*Result, error) {
		fs, err := s.fields.LoadFieldStore(ctx, entityID)
		if err != nil {
			return nil, eris.Wrapf(err, "review: load field store %s", entityID)
		}
		res := apply(fs, keys, actor, to, s.now().UTC())
		if len(res.Updated) == 0 {
			return res, nil
		}
		if err := s.fields.SaveFieldStore(ctx, fs); err != nil {
			return nil, eris.Wrapf(err, "review: save field store %s", entityID)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("fields reviewed",
		zap.String("entity_id", entityID),
		zap.String("status", string(to)),
		zap.String("actor", actor),
		zap.Strings("updated", res.Updated),
		zap.Strings("missing", res.Missing),
	)
	return res, nil
}

func apply(fs *model.FieldStore, keys []string, actor string, to model.FieldStatus, now time.Time) *Result {
	res := &Result{Updated: []string{}, Unchanged: []string{}, Missing: []string{}}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true

		rec := fs.Get(k)
		switch {
		case rec == nil:
			res.Missing = append(res.Missing, k)
		case rec.Status == to:
			res.Unchanged = append(res.Unchanged, k)
		default:
			rec.PushHistory(string(to), now)
			rec.Status = to
			rec.UpdatedAt = now
			at := now
			rec.DecidedAt = &at
			rec.DecidedBy = actor
			res.Updated = append(res.Updated, k)
		}
	}
	return res
}
