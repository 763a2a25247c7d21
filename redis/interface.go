// Package redis translates sensor records to a redis database.
// Every record is a hash at <prefix><radio> with one field per snapshot key;
// the same record goes as JSON to the pub/sub channel of the same name.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	oi "github.com/kagami-house/nrf-gateway/outsideinterface"
	"github.com/kagami-house/nrf-gateway/rfmodel"
)

const defaultTimeout = 2 * time.Second

type Settings struct {
	Address  string
	Password string
	DB       int
	Timeout  time.Duration
}

type Interface struct {
	db      *redis.Client
	ctx     context.Context
	timeout time.Duration
}

func New(settings Settings) *Interface {
	timeout := settings.Timeout
	if 0 == timeout {
		timeout = defaultTimeout
	}
	return &Interface{
		db: redis.NewClient(&redis.Options{
			Addr:        settings.Address,
			Password:    settings.Password,
			DB:          settings.DB,
			DialTimeout: timeout,
			MaxRetries:  -1,
		}),
		ctx:     context.Background(),
		timeout: timeout,
	}
}

// Connect pings the server, the client itself reconnects lazily
func (i *Interface) Connect() bool {
	ctx, cancel := context.WithTimeout(i.ctx, i.timeout)
	defer cancel()
	return nil == i.db.Ping(ctx).Err()
}

func (i *Interface) Publish(prefix string, key string, fields oi.Snapshot) error {
	message, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "redis: marshal snapshot")
	}
	values := make([]interface{}, 0, 2*len(fields))
	for _, f := range fields {
		values = append(values, f.Key, oi.FormatValue(f.Value))
	}
	ctx, cancel := context.WithTimeout(i.ctx, i.timeout)
	defer cancel()
	pipe := i.db.TxPipeline()
	pipe.HSet(ctx, prefix+key, values...)
	pipe.Publish(ctx, prefix+key, message)
	if _, err := pipe.Exec(ctx); err != nil {
		return rfmodel.TransportError(errors.Wrapf(err, "redis: %s%s", prefix, key))
	}
	return nil
}

func (i *Interface) Close() error {
	return i.db.Close()
}
