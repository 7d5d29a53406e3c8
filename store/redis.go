package store

import (
	"context"
	"fmt"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the session when no key is configured.
const DefaultRedisKey = "hrconsole:session"

// Redis keeps the session in one Redis hash, for consoles that share state
// between several processes on the same workstation or kiosk.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// compile-time check
var _ console.SessionStore = (*Redis)(nil)

// NewRedis returns a store using the hash at key.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// Get reads the session hash.
func (r *Redis) Get(ctx context.Context) (*console.Session, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("console/store: redis get: %w", err)
	}
	rec := record{
		Token:     fields[FieldToken],
		Role:      fields[FieldRole],
		SessionID: fields[FieldSessionID],
		UserEmail: fields[FieldUserEmail],
	}
	return rec.session(), nil
}

// Set replaces the session hash inside one MULTI/EXEC transaction.
func (r *Redis) Set(ctx context.Context, s console.Session) error {
	if err := check(s); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key)
		p.HSet(ctx, r.key,
			FieldToken, s.Token,
			FieldRole, string(s.Role),
			FieldSessionID, s.SessionID,
			FieldUserEmail, s.UserEmail,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("console/store: redis set: %w", err)
	}
	return nil
}

// Clear deletes the session hash.
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("console/store: redis clear: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
