package store

import (
	"context"
	"time"

	"github.com/pitabwire/gridform/internal/observability"
	"github.com/pitabwire/gridform/model"
)

// InstrumentedStore wraps a RecordStore with a span and a duration sample
// per call, and optionally a Breaker.
type InstrumentedStore struct {
	inner   RecordStore
	metrics *observability.Metrics
	breaker *Breaker
}

// InstrumentOption configures Instrument.
type InstrumentOption func(*InstrumentedStore)

// WithBreaker fails calls with STORE_UNAVAILABLE while b is open.
func WithBreaker(b *Breaker) InstrumentOption {
	return func(s *InstrumentedStore) { s.breaker = b }
}

// Instrument wraps s. A nil metrics records spans only.
func Instrument(s RecordStore, metrics *observability.Metrics, opts ...InstrumentOption) *InstrumentedStore {
	is := &InstrumentedStore{inner: s, metrics: metrics}
	for _, opt := range opts {
		opt(is)
	}
	return is
}

// Breaker returns the breaker guarding the store, or nil.
func (s *InstrumentedStore) Breaker() *Breaker {
	return s.breaker
}

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() RecordStore {
	return s.inner
}

func (s *InstrumentedStore) observe(ctx context.Context, op, typeName string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "store."+op,
		observability.AttrOperation.String(op),
		observability.AttrRecordType.String(typeName),
	)
	if s.breaker != nil && !s.breaker.Allow() {
		err := model.NewStoreUnavailableError()
		observability.EndSpanWithError(span, err)
		return err
	}

	start := time.Now()
	err := fn(ctx)
	failed := err
	if model.IsCode(err, model.ErrNotFound) {
		failed = nil
	}
	s.metrics.RecordStoreOperation(op, time.Since(start), failed)
	observability.EndSpanWithError(span, failed)
	s.trackAvailability(err)
	return err
}

// trackAvailability feeds the breaker. Domain errors such as NOT_FOUND or
// CONFLICT prove the store answered.
func (s *InstrumentedStore) trackAvailability(err error) {
	if s.breaker == nil {
		return
	}
	ee, isEnvelope := model.EnvelopeFrom(err)
	switch {
	case err == nil:
		s.breaker.Success()
	case !isEnvelope || ee.Code == model.ErrStoreUnavailable:
		s.breaker.Failure()
	default:
		s.breaker.Success()
	}
}

// Get implements RecordStore.
func (s *InstrumentedStore) Get(ctx context.Context, typeName string, id int64) (*model.Record, error) {
	var rec *model.Record
	err := s.observe(ctx, "get", typeName, func(ctx context.Context) error {
		var err error
		rec, err = s.inner.Get(ctx, typeName, id)
		return err
	})
	return rec, err
}

// Find implements RecordStore.
func (s *InstrumentedStore) Find(ctx context.Context, q Query) ([]*model.Record, error) {
	var out []*model.Record
	err := s.observe(ctx, "find", q.Type, func(ctx context.Context) error {
		var err error
		out, err = s.inner.Find(ctx, q)
		return err
	})
	return out, err
}

// Count implements RecordStore.
func (s *InstrumentedStore) Count(ctx context.Context, q Query) (int, error) {
	var n int
	err := s.observe(ctx, "count", q.Type, func(ctx context.Context) error {
		var err error
		n, err = s.inner.Count(ctx, q)
		return err
	})
	return n, err
}

// Save implements RecordStore.
func (s *InstrumentedStore) Save(ctx context.Context, rec *model.Record) error {
	return s.observe(ctx, "save", rec.Type, func(ctx context.Context) error {
		return s.inner.Save(ctx, rec)
	})
}

// Delete implements RecordStore.
func (s *InstrumentedStore) Delete(ctx context.Context, typeName string, id int64) error {
	return s.observe(ctx, "delete", typeName, func(ctx context.Context) error {
		return s.inner.Delete(ctx, typeName, id)
	})
}

// Link implements RecordStore.
func (s *InstrumentedStore) Link(ctx context.Context, key model.JoinKey, extra map[string]any) error {
	return s.observe(ctx, "link", key.OwnerType, func(ctx context.Context) error {
		return s.inner.Link(ctx, key, extra)
	})
}

// Unlink implements RecordStore.
func (s *InstrumentedStore) Unlink(ctx context.Context, key model.JoinKey) error {
	return s.observe(ctx, "unlink", key.OwnerType, func(ctx context.Context) error {
		return s.inner.Unlink(ctx, key)
	})
}

// LinkedIDs implements RecordStore.
func (s *InstrumentedStore) LinkedIDs(ctx context.Context, table, ownerType string, ownerID int64) ([]int64, error) {
	var ids []int64
	err := s.observe(ctx, "linked_ids", ownerType, func(ctx context.Context) error {
		var err error
		ids, err = s.inner.LinkedIDs(ctx, table, ownerType, ownerID)
		return err
	})
	return ids, err
}

// ExtraData implements RecordStore.
func (s *InstrumentedStore) ExtraData(ctx context.Context, key model.JoinKey) (map[string]any, bool, error) {
	var (
		extra map[string]any
		ok    bool
	)
	err := s.observe(ctx, "extra_data", key.OwnerType, func(ctx context.Context) error {
		var err error
		extra, ok, err = s.inner.ExtraData(ctx, key)
		return err
	})
	return extra, ok, err
}

// SetExtraData implements RecordStore.
func (s *InstrumentedStore) SetExtraData(ctx context.Context, key model.JoinKey, extra map[string]any) error {
	return s.observe(ctx, "set_extra_data", key.OwnerType, func(ctx context.Context) error {
		return s.inner.SetExtraData(ctx, key, extra)
	})
}

// Ping implements RecordStore.
func (s *InstrumentedStore) Ping(ctx context.Context) error {
	return s.observe(ctx, "ping", "", s.inner.Ping)
}

// HealthCheck adapts Ping for readiness probes.
func (s *InstrumentedStore) HealthCheck(ctx context.Context) error {
	return s.inner.Ping(ctx)
}
