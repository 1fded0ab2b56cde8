package cert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/websecurify/proxify/logging"
)

// DefaultRedisPrefix is the key prefix used when a RedisStore's Prefix is
// empty.
const DefaultRedisPrefix = "ssl:"

// DefaultRedisTimeout bounds each Redis operation performed by an observer.
const DefaultRedisTimeout = 5 * time.Second

// RedisStore persists host certificates in Redis, one hash per domain with
// "certificate" and "key" fields holding PEM data.
type RedisStore struct {
	Client *redis.Client
	Logger logrus.FieldLogger

	// Prefix is prepended to the domain to form the hash key. If it is empty,
	// DefaultRedisPrefix is used.
	Prefix string

	// Timeout bounds each save made by the observer installed by Attach(). If
	// it is zero, DefaultRedisTimeout is used.
	Timeout time.Duration
}

// Save writes an entry to Redis.
func (s *RedisStore) Save(ctx context.Context, e Entry) error {
	keyPEM, err := EncodePrivateKeyPEM(e.Record.PrivateKey)
	if err != nil {
		return err
	}

	return s.Client.HSet(
		ctx,
		s.key(e.Domain),
		map[string]interface{}{
			"certificate": string(EncodeCertificatePEM(e.Record.Certificate)),
			"key":         string(keyPEM),
		},
	).Err()
}

// Load reads the record for domain from Redis. It returns false if no
// complete record is stored.
func (s *RedisStore) Load(ctx context.Context, domain string) (*Record, bool, error) {
	m, err := s.Client.HGetAll(ctx, s.key(domain)).Result()
	if err != nil {
		return nil, false, err
	}

	c, k, ok := certAndKeyFromMap(m)
	if !ok {
		return nil, false, nil
	}

	r, err := ParseRecordPEM(domain, []byte(c), []byte(k))
	if err != nil {
		return nil, false, fmt.Errorf("unable to parse stored certificate for '%s': %w", domain, err)
	}

	return r, true, nil
}

// Seed inserts every record stored in Redis into a. Records that can not be
// parsed are logged and skipped. It returns the number of records inserted.
func (s *RedisStore) Seed(ctx context.Context, a *Authority) (int, error) {
	var (
		cursor uint64
		count  int
	)

	logger := logging.Default(s.Logger)

	for {
		keys, next, err := s.Client.Scan(ctx, cursor, s.prefix()+"*", 100).Result()
		if err != nil {
			return count, err
		}

		for _, key := range keys {
			domain := strings.TrimPrefix(key, s.prefix())

			r, ok, err := s.Load(ctx, domain)
			if err != nil {
				logger.Warnf("Skipped stored certificate for '%s': %s", domain, err)
				continue
			} else if !ok {
				continue
			}

			// Insert() notifies observers, which may include this store.
			a.Insert(domain, r)
			count++
		}

		if next == 0 {
			return count, nil
		}

		cursor = next
	}
}

// Attach subscribes the store to a, so that every new entry is saved.
// Failures are logged.
func (s *RedisStore) Attach(a *Authority) {
	a.Subscribe(func(e Entry) {
		timeout := s.Timeout
		if timeout == 0 {
			timeout = DefaultRedisTimeout
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.Save(ctx, e); err != nil {
			logging.Default(s.Logger).Warnf(
				"Unable to save certificate for '%s' to redis: %s",
				e.Domain,
				err,
			)
		}
	})
}

func (s *RedisStore) prefix() string {
	if s.Prefix == "" {
		return DefaultRedisPrefix
	}

	return s.Prefix
}

func (s *RedisStore) key(domain string) string {
	return s.prefix() + domain
}

func certAndKeyFromMap(m map[string]string) (cert string, key string, ok bool) {
	if cert, ok = m["certificate"]; !ok {
		return
	}

	key, ok = m["key"]

	return
}
