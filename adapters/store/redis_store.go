package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

const (
	presentPayload = "1"
	absentPayload  = "0"
)

// RedisStore is a Redis implementation of the SessionStore interface.
// The session lives in one hash written inside MULTI/EXEC; presence changes
// are broadcast on a pub/sub channel so other processes observe them too.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	sessionTTL time.Duration
}

var _ ports.SessionStore = (*RedisStore)(nil)

// NewRedisStore creates a new Redis store. A zero sessionTTL keeps sessions until logout.
func NewRedisStore(client *redis.Client, sessionTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		prefix:     "otpwallet:",
		sessionTTL: sessionTTL,
	}
}

func (s *RedisStore) sessionKey() string { return s.prefix + "session" }
func (s *RedisStore) pendingKey() string { return s.prefix + "pending" }
func (s *RedisStore) channel() string    { return s.prefix + "presence" }

// expiredChannel carries keyspace expiry events for the client's database
func (s *RedisStore) expiredChannel() string {
	return fmt.Sprintf("__keyevent@%d__:expired", s.client.Options().DB)
}

// EnableExpiryNotifications turns on the server's expired-key events so a
// session dropped by its TTL is reported as absent. Managed servers that
// forbid CONFIG must have notify-keyspace-events set to include "Ex".
func (s *RedisStore) EnableExpiryNotifications(ctx context.Context) error {
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("failed to enable expiry notifications: %w", err)
	}
	return nil
}

// Read retrieves the session hash
func (s *RedisStore) Read(ctx context.Context) (core.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey()).Result()
	if err != nil {
		return core.Session{}, fmt.Errorf("failed to read session: %w", err)
	}
	session := core.Session{
		Email:       fields["email"],
		Address:     fields["address"],
		PrivateKey:  fields["private_key"],
		IssuedToken: fields["issued_token"],
	}
	if ts, ok := fields["issued_at"]; ok {
		session.IssuedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if !session.Valid() {
		return core.Session{}, core.ErrSessionNotFound
	}
	return session, nil
}

// Write replaces the session hash in a single transaction
func (s *RedisStore) Write(ctx context.Context, session core.Session) error {
	payload := absentPayload
	if session.Valid() {
		payload = presentPayload
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey())
		pipe.HSet(ctx, s.sessionKey(), map[string]interface{}{
			"email":        session.Email,
			"address":      session.Address,
			"private_key":  session.PrivateKey,
			"issued_token": session.IssuedToken,
			"issued_at":    session.IssuedAt.Format(time.RFC3339Nano),
		})
		if s.sessionTTL > 0 {
			pipe.Expire(ctx, s.sessionKey(), s.sessionTTL)
		}
		pipe.Publish(ctx, s.channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Clear removes the session and pending verification
func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(), s.pendingKey())
		pipe.Publish(ctx, s.channel(), absentPayload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// ObservePresence subscribes to presence changes made by any process and to
// expiry of the session key
func (s *RedisStore) ObservePresence(ctx context.Context) (<-chan bool, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(), s.expiredChannel())
	// Wait for both subscriptions so no change between the read below and the first message is lost
	for i := 0; i < 2; i++ {
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("failed to subscribe to presence: %w", err)
		}
	}

	current := true
	if _, err := s.Read(ctx); err != nil {
		if !errors.Is(err, core.ErrSessionNotFound) {
			pubsub.Close()
			return nil, err
		}
		current = false
	}

	out := make(chan bool, 1)
	out <- current
	go func() {
		defer close(out)
		defer pubsub.Close()

		last := current
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var present bool
				switch msg.Channel {
				case s.channel():
					present = msg.Payload == presentPayload
				case s.expiredChannel():
					if msg.Payload != s.sessionKey() {
						continue
					}
				default:
					continue
				}
				if present == last {
					continue
				}
				last = present
				select {
				case out <- present:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Address returns the stored wallet address
func (s *RedisStore) Address(ctx context.Context) (string, error) {
	return s.field(ctx, s.sessionKey(), "address")
}

// PrivateKey returns the stored key material
func (s *RedisStore) PrivateKey(ctx context.Context) (string, error) {
	return s.field(ctx, s.sessionKey(), "private_key")
}

// SavePending replaces the pending verification
func (s *RedisStore) SavePending(ctx context.Context, pending core.PendingVerification) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.pendingKey())
		pipe.HSet(ctx, s.pendingKey(), map[string]interface{}{
			"email":           pending.Email,
			"verification_id": pending.VerificationID,
			"requested_at":    pending.RequestedAt.Format(time.RFC3339Nano),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save pending verification: %w", err)
	}
	return nil
}

// Pending returns the live verification
func (s *RedisStore) Pending(ctx context.Context) (core.PendingVerification, error) {
	fields, err := s.client.HGetAll(ctx, s.pendingKey()).Result()
	if err != nil {
		return core.PendingVerification{}, fmt.Errorf("failed to read pending verification: %w", err)
	}
	if fields["verification_id"] == "" {
		return core.PendingVerification{}, core.ErrNoPendingVerification
	}
	pending := core.PendingVerification{
		Email:          fields["email"],
		VerificationID: fields["verification_id"],
	}
	pending.RequestedAt, _ = time.Parse(time.RFC3339Nano, fields["requested_at"])
	return pending, nil
}

// ClearPending drops the pending verification
func (s *RedisStore) ClearPending(ctx context.Context) error {
	if err := s.client.Del(ctx, s.pendingKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear pending verification: %w", err)
	}
	return nil
}

func (s *RedisStore) field(ctx context.Context, key, name string) (string, error) {
	value, err := s.client.HGet(ctx, key, name).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return value, nil
}
