package export

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"f1telemetryhub/pkg/caster"
	"f1telemetryhub/pkg/model"
)

// ChannelPrefix + session id is the redis channel a session is mirrored to.
const ChannelPrefix = "telemetry:"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisSink publishes each sample on its session's pub/sub channel.
type RedisSink struct {
	client *redis.Client
	codec  caster.StringCaster[model.TelemetrySample]
}

func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return &RedisSink{
		client: client,
		codec:  caster.StringCaster[model.TelemetrySample]{Caster: caster.JSONCaster[model.TelemetrySample]{}},
	}, nil
}

func ChannelFor(sessionID string) string {
	return ChannelPrefix + sessionID
}

func (r *RedisSink) Name() string {
	return "redis"
}

func (r *RedisSink) Write(ctx context.Context, samples []model.TelemetrySample) error {
	pipe := r.client.Pipeline()
	for _, s := range samples {
		payload, err := r.codec.ToString(s)
		if err != nil {
			return errors.Wrap(err, "encoding sample")
		}
		pipe.Publish(ctx, ChannelFor(s.SessionID), payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
