package kv

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis persists the counter under SeqKey in an existing Redis instance.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (r *Redis) Load() (uint32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := r.client.Get(ctx, SeqKey).Bytes()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "redis get seq")
	}
	if len(data) < 4 {
		return 0, errors.Errorf("redis seq record truncated: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (r *Redis) Store(seq uint32) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], seq)
	return errors.Wrap(r.client.Set(ctx, SeqKey, buf[:], 0).Err(), "redis set seq")
}

func (r *Redis) Close() error {
	return r.client.Close()
}
