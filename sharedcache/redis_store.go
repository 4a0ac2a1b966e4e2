// Package sharedcache shares dashboard snapshots between service instances, so that only one
// instance per epoch has to query the backing store.
package sharedcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore stores snapshots under '<prefix>:<epoch>'. Entries only need to live for about
// one epoch, ttl bounds the memory used in redis.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(epoch domain.Epoch) string {
	return fmt.Sprintf("%s:%d", s.prefix, epoch)
}

func (s *RedisStore) Get(ctx context.Context, epoch domain.Epoch) (*domain.Snapshot, error) {
	value, err := s.client.Get(ctx, s.key(epoch)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting key [%s]", s.key(epoch))
	}

	var snapshot domain.Snapshot
	err = json.Unmarshal(value, &snapshot)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding snapshot of epoch [%d]", epoch)
	}
	return &snapshot, nil
}

// Set stores the snapshot unless another instance was faster.
func (s *RedisStore) Set(ctx context.Context, epoch domain.Epoch, snapshot *domain.Snapshot) error {
	value, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	err = s.client.SetNX(ctx, s.key(epoch), value, s.ttl).Err()
	if err != nil {
		return errors.Wrapf(err, "setting key [%s]", s.key(epoch))
	}
	return nil
}
