/**
 * @description
 * Short-lived record of chat messages the bot may need to delete later, such as the
 * plan menu and checkout link shown before a payment. Entries expire on their own so
 * an abandoned checkout does not leave state behind.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMessageTTL matches the lifetime of a YooKassa confirmation link.
const DefaultMessageTTL = 24 * time.Hour

var drainMessagesScript = redis.NewScript(`
local ids = redis.call("HKEYS", KEYS[1])
redis.call("DEL", KEYS[1])
return ids
`)

// RedisMessageStore keeps one hash per chat: field = message id, value = kind.
type RedisMessageStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisMessageStore creates a message store backed by redis.
func NewRedisMessageStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisMessageStore {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "vpnbot:messages"
	}
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	return &RedisMessageStore{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (s *RedisMessageStore) key(chatID int64) string {
	return fmt.Sprintf("%s:%d", s.prefix, chatID)
}

// Remember records a message id for chatID.
func (s *RedisMessageStore) Remember(ctx context.Context, chatID int64, messageID int, kind string) error {
	key := s.key(chatID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(messageID), kind)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remember message %d for chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// Drain returns every remembered message id for chatID and forgets them.
func (s *RedisMessageStore) Drain(ctx context.Context, chatID int64) ([]int, error) {
	raw, err := drainMessagesScript.Run(ctx, s.client, []string{s.key(chatID)}).StringSlice()
	ids, err := parseDrained(raw, err)
	if err != nil {
		return nil, fmt.Errorf("drain messages for chat %d: %w", chatID, err)
	}
	return ids, nil
}

// parseDrained converts the hash fields returned by the drain script into sorted
// message ids. A missing key is an empty result.
func parseDrained(raw []string, err error) ([]int, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(raw))
	for _, value := range raw {
		id, convErr := strconv.Atoi(value)
		if convErr != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

type rememberedMessage struct {
	kind      string
	expiresAt time.Time
}

// MemoryMessageStore is the fallback used when REDIS_URL is not configured.
type MemoryMessageStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	messages map[int64]map[int]rememberedMessage
}

// NewMemoryMessageStore creates an in-process message store.
func NewMemoryMessageStore(ttl time.Duration) *MemoryMessageStore {
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	return &MemoryMessageStore{
		ttl:      ttl,
		now:      time.Now,
		messages: make(map[int64]map[int]rememberedMessage),
	}
}

func (s *MemoryMessageStore) Remember(_ context.Context, chatID int64, messageID int, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)
	byID, ok := s.messages[chatID]
	if !ok {
		byID = make(map[int]rememberedMessage)
		s.messages[chatID] = byID
	}
	byID[messageID] = rememberedMessage{kind: kind, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryMessageStore) Drain(_ context.Context, chatID int64) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.messages[chatID]
	delete(s.messages, chatID)

	now := s.now()
	ids := make([]int, 0, len(byID))
	for id, msg := range byID {
		if now.Before(msg.expiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// pruneLocked drops expired entries so abandoned chats do not accumulate.
func (s *MemoryMessageStore) pruneLocked(now time.Time) {
	for chatID, byID := range s.messages {
		for id, msg := range byID {
			if !now.Before(msg.expiresAt) {
				delete(byID, id)
			}
		}
		if len(byID) == 0 {
			delete(s.messages, chatID)
		}
	}
}
