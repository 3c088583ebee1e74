// Package redis publishes session stats to Redis so that other processes
// (the status command, dashboards) can read the bus state.
//
// Graceful fallback: if Redis is unavailable, operations silently return
// zero values instead of blocking the frame loop.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dayuer/scenebus/internal/messaging"
)

// Key layout.
const (
	KeyStats    = "scenebus:stats:"   // scenebus:stats:<scene>:<bus> → Stats JSON
	KeySessions = "scenebus:sessions" // set of stats keys
)

// DefaultTTL bounds how long a session outlives its last publish.
const DefaultTTL = time.Minute

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port
	Password string
	DB       int
}

// Store reads and writes session stats. A Store with no client is valid and
// does nothing.
type Store struct {
	mu     sync.RWMutex
	client *redis.Client
}

// NewStore connects to Redis. Connection problems are logged and yield a
// disconnected store.
func NewStore(cfg Config) *Store {
	if cfg.URL == "" {
		log.Println("[Redis] URL not configured, stats publishing disabled")
		return &Store{}
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Printf("[Redis] ❌ Invalid URL: %v", err)
		return &Store{}
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		log.Printf("[Redis] ❌ Connection failed: %v", err)
		c.Close()
		return &Store{}
	}

	log.Println("[Redis] ✅ Connected")
	return &Store{client: c}
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(c *redis.Client) *Store {
	return &Store{client: c}
}

// Close closes the Redis connection.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Close()
		s.client = nil
		log.Println("[Redis] Connection closed")
	}
}

// Available reports whether the store is connected.
func (s *Store) Available() bool {
	return s.get() != nil
}

func (s *Store) get() *redis.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// StatsKey returns the Redis key for a session. Global sessions use "-" as
// the scene segment.
func StatsKey(sceneID, busID string) string {
	if sceneID == "" {
		sceneID = "-"
	}
	return fmt.Sprintf("%s%s:%s", KeyStats, sceneID, busID)
}

// PublishStats writes every session's stats with ttl and indexes the keys.
// Returns the number of sessions written.
func (s *Store) PublishStats(ctx context.Context, stats []messaging.Stats, ttl time.Duration) (int, error) {
	c := s.get()
	if c == nil || len(stats) == 0 {
		return 0, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	pipe := c.TxPipeline()
	keys := make([]any, 0, len(stats))
	for _, st := range stats {
		data, err := json.Marshal(st)
		if err != nil {
			return 0, fmt.Errorf("marshal stats %s: %w", st.ID, err)
		}
		key := StatsKey(st.SceneID, st.BusID)
		pipe.Set(ctx, key, data, ttl)
		keys = append(keys, key)
	}
	pipe.SAdd(ctx, KeySessions, keys...)
	pipe.Expire(ctx, KeySessions, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Redis] publish_stats failed: %v", err)
		return 0, err
	}
	return len(stats), nil
}

// LoadStats reads every indexed session, sorted by scene then bus. Keys whose
// stats expired are pruned from the index.
func (s *Store) LoadStats(ctx context.Context) ([]messaging.Stats, error) {
	c := s.get()
	if c == nil {
		return nil, nil
	}

	keys, err := c.SMembers(ctx, KeySessions).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]messaging.Stats, 0, len(vals))
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		var st messaging.Stats
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			log.Printf("[Redis] load_stats parse failed (%s): %v", keys[i], err)
			continue
		}
		out = append(out, st)
	}
	if len(stale) > 0 {
		c.SRem(ctx, KeySessions, stale...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SceneID != out[j].SceneID {
			return out[i].SceneID < out[j].SceneID
		}
		return out[i].BusID < out[j].BusID
	})
	return out, nil
}

// Clear removes every published session.
func (s *Store) Clear(ctx context.Context) error {
	c := s.get()
	if c == nil {
		return nil
	}
	keys, err := c.SMembers(ctx, KeySessions).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	return c.Del(ctx, append(keys, KeySessions)...).Err()
}
