package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
)

// Redis key patterns:
// presence:user:{user_id}             HASH{last_seen, updated_at}
// presence:user:{user_id}:instances   HASH{instance_id: "status|expires_unix"}
const (
	userStatusKeyPrefix = "presence:user:"
	instancesKeySuffix  = ":instances"
)

const (
	fieldLastSeen  = "last_seen"
	fieldUpdatedAt = "updated_at"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address    string
	Password   string
	DB         int
	InstanceID string // field of this instance's report
}

// RedisStatusStore implements StatusStore backed by Redis hashes.
type RedisStatusStore struct {
	client     *redis.Client
	instanceID string
}

// NewRedisStatusStore connects to Redis and returns a status store.
func NewRedisStatusStore(cfg RedisConfig) (*RedisStatusStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStatusStoreWithClient(client, cfg.InstanceID), nil
}

// NewRedisStatusStoreWithClient wraps an existing client.
func NewRedisStatusStoreWithClient(client *redis.Client, instanceID string) *RedisStatusStore {
	return &RedisStatusStore{client: client, instanceID: instanceID}
}

func userStatusKey(userID string) string {
	return userStatusKeyPrefix + userID
}

func userInstancesKey(userID string) string {
	return userStatusKeyPrefix + userID + instancesKeySuffix
}

func (s *RedisStatusStore) SetStatus(ctx context.Context, change domain.StatusChange, ttl time.Duration) error {
	key := userStatusKey(change.UserID)
	instKey := userInstancesKey(change.UserID)
	fields := map[string]interface{}{
		fieldUpdatedAt: change.Timestamp.Unix(),
	}
	if !change.LastSeen.IsZero() {
		fields[fieldLastSeen] = change.LastSeen.Unix()
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if change.Status == domain.StatusOffline {
		pipe.HDel(ctx, instKey, s.instanceID)
	} else {
		pipe.HSet(ctx, instKey, s.instanceID, encodeReport(change.Status, time.Now(), ttl))
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
		pipe.Expire(ctx, instKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}

func (s *RedisStatusStore) GetStatuses(ctx context.Context, userIDs []string) (map[string]CachedStatus, error) {
	out := make(map[string]CachedStatus, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	type userCmds struct {
		summary   *redis.MapStringStringCmd
		instances *redis.MapStringStringCmd
	}
	pipe := s.client.Pipeline()
	cmds := make(map[string]userCmds, len(userIDs))
	for _, id := range userIDs {
		cmds[id] = userCmds{
			summary:   pipe.HGetAll(ctx, userStatusKey(id)),
			instances: pipe.HGetAll(ctx, userInstancesKey(id)),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis get statuses: %w", err)
	}

	now := time.Now()
	for id, c := range cmds {
		summary, _ := c.summary.Result()
		reports, _ := c.instances.Result()
		if len(summary) == 0 && len(reports) == 0 {
			continue
		}

		entry := CachedStatus{
			Status:    domain.StatusOffline,
			LastSeen:  parseUnix(summary[fieldLastSeen]),
			UpdatedAt: parseUnix(summary[fieldUpdatedAt]),
		}
		for instance, raw := range reports {
			status, ok := decodeReport(raw, now)
			if !ok {
				continue
			}
			if statusRank(status) > statusRank(entry.Status) ||
				(status == entry.Status && instance < entry.Instance) {
				entry.Status = status
				entry.Instance = instance
			}
		}
		out[id] = entry
	}
	return out, nil
}

// Close closes the Redis client.
func (s *RedisStatusStore) Close() error {
	return s.client.Close()
}

func parseUnix(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// encodeReport formats one instance's report. A ttl of zero never expires.
func encodeReport(status domain.Status, now time.Time, ttl time.Duration) string {
	var expires int64
	if ttl > 0 {
		expires = now.Add(ttl).Unix()
	}
	return string(status) + "|" + strconv.FormatInt(expires, 10)
}

func decodeReport(raw string, now time.Time) (domain.Status, bool) {
	status, expiresRaw, found := strings.Cut(raw, "|")
	if !found {
		return "", false
	}
	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return "", false
	}
	if expires > 0 && now.Unix() >= expires {
		return "", false
	}
	return domain.Status(status), true
}

func statusRank(s domain.Status) int {
	switch s {
	case domain.StatusOnline:
		return 2
	case domain.StatusAway:
		return 1
	default:
		return 0
	}
}
