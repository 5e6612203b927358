package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned by Load for unknown project ids.
var ErrNotFound = errors.New("session: not found")

// Store persists session snapshots.
type Store interface {
	Save(ctx context.Context, s *State) error
	Load(ctx context.Context, projectID string) (*State, error)
	List(ctx context.Context) ([]*State, error)
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, s *State) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[s.ProjectID] = data
	return nil
}

func (m *MemoryStore) Load(_ context.Context, projectID string) (*State, error) {
	m.mu.RLock()
	data, ok := m.items[projectID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", projectID, ErrNotFound)
	}
	return Decode(data)
}

func (m *MemoryStore) List(_ context.Context) ([]*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*State, 0, len(m.items))
	for _, data := range m.items {
		s, err := Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortByUpdated(out)
	return out, nil
}

// RedisStore keeps snapshots in Redis under <prefix><project_id>.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to url (redis:// or rediss://) and verifies the
// connection.
func NewRedisStore(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the underlying client.
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) key(projectID string) string { return r.prefix + projectID }

func (r *RedisStore) Save(ctx context.Context, s *State) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(s.ProjectID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", s.ProjectID, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, projectID string) (*State, error) {
	data, err := r.client.Get(ctx, r.key(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", projectID, err)
	}
	return Decode(data)
}

func (r *RedisStore) List(ctx context.Context) ([]*State, error) {
	var out []*State
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		s, err := Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sortByUpdated(out)
	return out, nil
}

func sortByUpdated(states []*State) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
}
