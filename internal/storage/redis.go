package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/pipeline"
)

const (
	redisDealsKey  = "dealscout:deals"
	redisRecentKey = "dealscout:recent"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) SaveDeals(deals []pipeline.Deal) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	newCount := 0
	for _, deal := range deals {
		data, err := json.Marshal(deal)
		if err != nil {
			return 0, fmt.Errorf("marshal deal: %w", err)
		}

		key := deal.Listing.Key()
		added, err := r.client.HSetNX(ctx, redisDealsKey, key, data).Result()
		if err != nil {
			return 0, fmt.Errorf("redis hsetnx: %w", err)
		}

		if added {
			newCount++
		} else {
			// Refresh the stored record for a re-observed deal.
			if err := r.client.HSet(ctx, redisDealsKey, key, data).Err(); err != nil {
				return 0, fmt.Errorf("redis hset: %w", err)
			}
		}

		score := float64(deal.Listing.FoundAt.UnixMilli())
		if err := r.client.ZAdd(ctx, redisRecentKey, redis.Z{Score: score, Member: key}).Err(); err != nil {
			return 0, fmt.Errorf("redis zadd: %w", err)
		}
	}

	return newCount, nil
}

func (r *RedisStore) RecentDeals(limit int) ([]pipeline.Deal, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keys, err := r.client.ZRevRange(ctx, redisRecentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.HMGet(ctx, redisDealsKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}

	deals := make([]pipeline.Deal, 0, len(values))
	for _, value := range values {
		str, ok := value.(string)
		if !ok {
			continue
		}
		var deal pipeline.Deal
		if err := json.Unmarshal([]byte(str), &deal); err != nil {
			return nil, fmt.Errorf("unmarshal deal: %w", err)
		}
		deals = append(deals, deal)
	}

	return deals, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
