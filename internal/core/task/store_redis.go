// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tramoapp/tramo/internal/platform/apperr"
	"github.com/tramoapp/tramo/internal/platform/constants"
)

// RedisStore keeps tasks in Redis so restarts and multiple API replicas
// share one task space. Artifacts expire with the configured TTL; the
// cleanup operation handles anything terminal that outlives its interest.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (store *RedisStore) SaveTask(ctx context.Context, t Task) error {
	encoded, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return store.client.Set(ctx, constants.RedisPrefixTaskMeta+t.ID, encoded, store.ttl).Err()
}

func (store *RedisStore) FindTask(ctx context.Context, id string) (Task, error) {
	raw, err := store.client.Get(ctx, constants.RedisPrefixTaskMeta+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, apperr.NotFound("Task")
	}
	if err != nil {
		return Task{}, err
	}

	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (store *RedisStore) SaveProgress(ctx context.Context, id string, p Progress) error {
	encoded, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return store.client.Set(ctx, constants.RedisPrefixTaskProgress+id, encoded, store.ttl).Err()
}

func (store *RedisStore) FindProgress(ctx context.Context, id string) (*Progress, error) {
	raw, err := store.client.Get(ctx, constants.RedisPrefixTaskProgress+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (store *RedisStore) SaveResult(ctx context.Context, id string, artifact []byte) error {
	return store.client.Set(ctx, constants.RedisPrefixTaskResult+id, artifact, store.ttl).Err()
}

func (store *RedisStore) FindResult(ctx context.Context, id string) ([]byte, error) {
	raw, err := store.client.Get(ctx, constants.RedisPrefixTaskResult+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound("Task result")
	}
	return raw, err
}

func (store *RedisStore) Terminal(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string

	iter := store.client.Scan(ctx, 0, constants.RedisPrefixTaskMeta+"*", 200).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(constants.RedisPrefixTaskMeta):]
		t, err := store.FindTask(ctx, id)
		if err != nil {
			continue
		}
		if t.Status.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (store *RedisStore) Delete(ctx context.Context, id string) error {
	return store.client.Del(ctx,
		constants.RedisPrefixTaskMeta+id,
		constants.RedisPrefixTaskProgress+id,
		constants.RedisPrefixTaskResult+id,
	).Err()
}
