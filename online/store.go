// Package online implements the low-latency online feature store on redis.
// It holds only the latest vector per entity; history lives in the gold
// layer. Reads enforce a declared staleness bound: a vector older than the
// bound fails with ErrFeatureStale rather than silently serving outdated
// features.
package online

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lakewing/fpk"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fpk:online:"

// Store reads and writes latest-value feature vectors in redis.
type Store struct {
	rdb       *redis.Client
	staleness time.Duration
	ttl       time.Duration
	now       func() time.Time
}

// StoreOption is a functional option for the Store.
type StoreOption func(*Store)

// OptStoreStaleness sets the staleness bound enforced on reads. There is no
// safe universal default, so callers configure it explicitly; the zero value
// falls back to 15 minutes.
func OptStoreStaleness(d time.Duration) StoreOption {
	return func(s *Store) { s.staleness = d }
}

// OptStoreTTL sets the redis key TTL. Zero keeps entries until replaced.
func OptStoreTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.ttl = d }
}

// NewStore creates a Store over an existing redis client.
func NewStore(rdb *redis.Client, opts ...StoreOption) *Store {
	s := &Store{
		rdb:       rdb,
		staleness: 15 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores fv as the entity's latest vector, evicting the prior one.
func (s *Store) Put(ctx context.Context, fv fpk.FeatureVector) error {
	if fv.Written.IsZero() {
		fv.Written = s.now().UTC()
	}
	raw, err := json.Marshal(fv)
	if err != nil {
		return errors.Wrap(err, "marshaling vector")
	}
	err = s.rdb.Set(ctx, keyPrefix+string(fv.Entity), raw, s.ttl).Err()
	return errors.Wrapf(err, "writing online vector for %s", fv.Entity)
}

// Get returns the entity's latest vector. ErrNoFeatures if none exists,
// ErrFeatureStale if the vector's write time exceeds the staleness bound.
func (s *Store) Get(ctx context.Context, entity fpk.EntityKey) (fpk.FeatureVector, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+string(entity)).Bytes()
	if err == redis.Nil {
		return fpk.FeatureVector{}, errors.Wrapf(fpk.ErrNoFeatures, "entity %s", entity)
	}
	if err != nil {
		return fpk.FeatureVector{}, errors.Wrapf(err, "reading online vector for %s", entity)
	}
	var fv fpk.FeatureVector
	if err := json.Unmarshal(raw, &fv); err != nil {
		return fpk.FeatureVector{}, errors.Wrap(err, "unmarshaling vector")
	}
	if age := s.now().Sub(fv.Written); age > s.staleness {
		return fpk.FeatureVector{}, errors.Wrapf(fpk.ErrFeatureStale,
			"entity %s is %s old (bound %s)", entity, age.Round(time.Second), s.staleness)
	}
	return fv, nil
}
