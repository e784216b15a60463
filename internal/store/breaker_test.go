package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/gridform/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures, successes int, timeout time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(failures, successes, timeout)
	b.now = clock.now
	return b, clock
}

func TestBreaker_defaults(t *testing.T) {
	b := NewBreaker(0, 0, 0)
	assert.Equal(t, 5, b.failureThreshold)
	assert.Equal(t, 2, b.successThreshold)
	assert.Equal(t, 30*time.Second, b.openTimeout)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_tripsOnConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 1, time.Minute)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	assert.Equal(t, BreakerClosed, b.State(), "a success resets the count")

	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_halfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 2, time.Minute)
	b.Failure()
	require.Equal(t, BreakerOpen, b.State())

	clock.advance(59 * time.Second)
	assert.False(t, b.Allow())

	clock.advance(time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.Success()
	assert.Equal(t, BreakerHalfOpen, b.State())
	b.Success()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_halfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 1, time.Minute)
	b.Failure()
	clock.advance(time.Minute)
	require.Equal(t, BreakerHalfOpen, b.State())

	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}

// downStore fails every call the way an unreachable database does.
type downStore struct {
	RecordStore
	calls int
	err   error
}

func (d *downStore) Get(ctx context.Context, typeName string, id int64) (*model.Record, error) {
	d.calls++
	return nil, d.err
}

func TestInstrumentedStore_breakerOpensOnOutage(t *testing.T) {
	inner := &downStore{err: errors.New("dial tcp 10.0.0.3:5432: connection refused")}
	b, _ := newTestBreaker(2, 1, time.Minute)
	s := Instrument(inner, nil, WithBreaker(b))
	ctx := context.Background()

	for range 2 {
		_, err := s.Get(ctx, "Person", 1)
		require.Error(t, err)
	}
	assert.Equal(t, BreakerOpen, s.Breaker().State())

	_, err := s.Get(ctx, "Person", 1)
	assert.True(t, model.IsCode(err, model.ErrStoreUnavailable), "err = %v", err)
	assert.Equal(t, 2, inner.calls, "an open breaker must not reach the store")
}

func TestInstrumentedStore_breakerIgnoresDomainErrors(t *testing.T) {
	inner := &downStore{err: model.NewNotFoundError("no such record")}
	b, _ := newTestBreaker(1, 1, time.Minute)
	s := Instrument(inner, nil, WithBreaker(b))

	for range 3 {
		_, err := s.Get(context.Background(), "Person", 1)
		require.True(t, model.IsCode(err, model.ErrNotFound))
	}
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 3, inner.calls)
}
