package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/stepwise/model"
)

// RedisStore keeps each instance as a JSON value under prefix+"instance:"+id
// and tracks ids in the set prefix+"instances".
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed Store. prefix namespaces every key.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) instanceKey(id string) string { return s.prefix + "instance:" + id }
func (s *RedisStore) indexKey() string             { return s.prefix + "instances" }

// HealthCheck pings the server.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get retrieves an instance by id.
func (s *RedisStore) Get(ctx context.Context, id string) (model.WorkflowInstance, error) {
	raw, err := s.client.Get(ctx, s.instanceKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.WorkflowInstance{}, notFound(id)
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("redis get %s: %w", id, err)
	}
	return decodeInstance(raw)
}

// Put writes inst inside a WATCH transaction so a concurrent writer turns
// into CONFLICT.
func (s *RedisStore) Put(ctx context.Context, inst model.WorkflowInstance) error {
	payload, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal workflow instance: %w", err)
	}
	key := s.instanceKey(inst.ID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get %s: %w", inst.ID, err)
		default:
			existing, err := decodeInstance(raw)
			if err != nil {
				return err
			}
			if existing.Version != inst.Version-1 {
				return versionConflict(inst.ID, inst.Version-1, existing.Version)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, s.indexKey(), inst.ID)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q was modified concurrently", inst.ID),
		)
	}
	return err
}

// Delete removes the instance and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.instanceKey(id))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	if del.Val() == 0 {
		return notFound(id)
	}
	return nil
}

// List loads every indexed instance and filters in process.
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]model.WorkflowInstance, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list instances: %w", err)
	}

	result := []model.WorkflowInstance{}
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.instanceKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget instances: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		inst, err := decodeInstance([]byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Matches(inst) {
			result = append(result, inst)
		}
	}
	sortByStart(result)
	return result, nil
}

func decodeInstance(raw []byte) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("unmarshal workflow instance: %w", err)
	}
	return inst, nil
}

var _ Store = (*RedisStore)(nil)
