package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for per-user presence records.
	KeyPrefix = "presence:"

	// RecordTTL bounds how long a presence record survives without a
	// refresh, so records from a crashed instance expire on their own.
	RecordTTL = 1 * time.Hour
)

// Store mirrors per-user online state into Redis so that peer instances and
// out-of-process consumers can observe presence. The in-process registry
// remains the routing source of truth; this mirror is advisory.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a presence mirror connected to Redis and verifies the
// connection.
func NewStore(redisAddr, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// SetOnline records the user as online on this server instance.
func (s *Store) SetOnline(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":     userID,
		"server":      s.serverName,
		"online":      "true",
		"last_active": now,
	})
	pipe.Expire(ctx, key, RecordTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Touch refreshes the user's last-active timestamp and TTL.
func (s *Store) Touch(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, RecordTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline removes the user's presence record.
func (s *Store) SetOffline(ctx context.Context, userID string) error {
	return s.client.Del(ctx, KeyPrefix+userID).Err()
}

// IsOnline reports whether a presence record exists for the user.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, KeyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (e.g., the rate limiter).
func (s *Store) Client() *redis.Client {
	return s.client
}
