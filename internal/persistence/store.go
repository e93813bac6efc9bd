// Package persistence holds the key/value contract that interrupted workflows
// are parked in between a pause and its resume, with one backend per
// deployment shape: in-process memory, SQLite, Redis and Postgres.
package persistence

import (
	"context"
	"time"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// DefaultTTL is how long a pending interrupt survives without a resume.
const DefaultTTL = time.Hour

// ErrNotFound is returned for a missing or expired id.
var ErrNotFound = domain.ErrInterruptNotFound

// Store parks opaque interrupt records under a workflow or session id.
//
// Save overwrites any prior record for the id. Load fails with ErrNotFound for
// missing or expired ids. Delete fails with ErrNotFound when nothing was
// deleted, so two racing consumers of the same id see exactly one success.
type Store interface {
	Save(ctx context.Context, id string, record []byte, ttl time.Duration) error
	Load(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the wall clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
