package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.SessionStore using Redis.
//
// Each session uses three keys sharing a hash tag so they land on one cluster slot:
// a data hash (one JSON-encoded field per item), an internal hash (timeout, item order,
// flags) and a write-lock string holding the owner token.
type Store struct {
	client  backend.UniversalClient
	prefix  string
	lockTTL time.Duration
	grace   time.Duration
	now     func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLockTTL bounds how long an abandoned write lock survives.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithGrace keeps records in Redis for d past their session timeout (default: domain.DefaultGrace).
// GetRemainingTTL reports the session time left, excluding the grace.
func WithGrace(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client:  client,
		prefix:  "sessionstate:",
		lockTTL: 2 * time.Minute,
		grace:   domain.DefaultGrace,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// KeySet names the Redis keys backing one session.
type KeySet struct {
	Data     string
	Internal string
	Lock     string
}

// Keys returns the Redis keys used for sessionID.
func (s *Store) Keys(sessionID string) KeySet {
	tag := "{" + s.prefix + sessionID + "}"
	return KeySet{
		Data:     tag + ":data",
		Internal: tag + ":internal",
		Lock:     tag + ":lock",
	}
}

func (s *Store) keys(sessionID string) []string {
	k := s.Keys(sessionID)
	return []string{k.Lock, k.Data, k.Internal}
}

// CreateUninitializedItem persists an empty record flagged for initialization.
func (s *Store) CreateUninitializedItem(ctx context.Context, id string, items *domain.Items, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = domain.DefaultTimeout
	}
	order, pairs, err := encodeItems(items)
	if err != nil {
		return err
	}
	args := append([]any{seconds(timeout), s.grace.Milliseconds(), order}, pairs...)
	if err := createUninitializedScript.Run(ctx, s.client, s.keys(id), args...).Err(); err != nil {
		return unavailable("create item", err)
	}
	return nil
}

// GetItem reads a record without taking the lock.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.GetItemResult, error) {
	reply, err := getItemScript.Run(ctx, s.client, s.keys(id)).Slice()
	if err != nil {
		return nil, unavailable("get item", err)
	}
	return s.decodeResult(reply, "")
}

// GetItemExclusive takes the write lock and reads the record.
func (s *Store) GetItemExclusive(ctx context.Context, id string) (*domain.GetItemResult, error) {
	token := uuid.NewString()
	reply, err := getItemExclusiveScript.Run(ctx, s.client, s.keys(id),
		token, s.lockTTL.Milliseconds(), s.now().UnixMilli()).Slice()
	if err != nil {
		return nil, unavailable("get item exclusive", err)
	}
	return s.decodeResult(reply, domain.LockID(token))
}

// SetAndReleaseItemExclusive writes the record and releases the lock.
func (s *Store) SetAndReleaseItemExclusive(ctx context.Context, id string, record *domain.Record, lockID domain.LockID, newItem bool) error {
	order, pairs, err := encodeItems(record.Items)
	if err != nil {
		return err
	}
	flag := "0"
	if newItem {
		flag = "1"
	}
	args := append([]any{string(lockID), flag, seconds(record.Timeout), s.grace.Milliseconds(), order}, pairs...)
	ok, err := setAndReleaseScript.Run(ctx, s.client, s.keys(id), args...).Int()
	if err != nil {
		return unavailable("set item", err)
	}
	if ok == 0 {
		return domain.ErrLockNotHeld
	}
	return nil
}

// ReleaseItemExclusive releases the lock if lockID still owns it.
func (s *Store) ReleaseItemExclusive(ctx context.Context, id string, lockID domain.LockID) error {
	if lockID == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, s.keys(id), string(lockID)).Err(); err != nil {
		return unavailable("release item", err)
	}
	return nil
}

// RemoveItem deletes the record and its lock.
func (s *Store) RemoveItem(ctx context.Context, id string, lockID domain.LockID) error {
	ok, err := removeScript.Run(ctx, s.client, s.keys(id), string(lockID)).Int()
	if err != nil {
		return unavailable("remove item", err)
	}
	if ok == 0 {
		return domain.ErrLockNotHeld
	}
	return nil
}

// ResetItemTimeout restarts the record expiry using the stored timeout.
func (s *Store) ResetItemTimeout(ctx context.Context, id string) error {
	if err := resetTimeoutScript.Run(ctx, s.client, s.keys(id)).Err(); err != nil {
		return unavailable("reset timeout", err)
	}
	return nil
}

// GetRemainingTTL returns the PTTL of the record minus the configured grace.
func (s *Store) GetRemainingTTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.Keys(id).Internal).Result()
	if err != nil {
		return 0, unavailable("read ttl", err)
	}
	switch {
	case ttl == -2:
		return 0, nil
	case ttl == -1:
		return domain.NoExpiration, nil
	}
	return max(ttl-s.grace, 0), nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) decodeResult(reply []any, token domain.LockID) (*domain.GetItemResult, error) {
	if len(reply) == 0 {
		return nil, fmt.Errorf("unexpected empty reply from redis")
	}
	status, _ := reply[0].(int64)
	switch status {
	case 0:
		return &domain.GetItemResult{}, nil
	case 2:
		res := &domain.GetItemResult{Locked: true}
		if len(reply) > 1 {
			if ms, err := strconv.ParseInt(toString(reply[1]), 10, 64); err == nil {
				res.LockAge = s.now().Sub(time.UnixMilli(ms))
			}
		}
		return res, nil
	}
	if len(reply) < 5 {
		return nil, fmt.Errorf("unexpected reply length %d from redis", len(reply))
	}

	timeoutSec, err := strconv.Atoi(toString(reply[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid stored session timeout: %w", err)
	}
	fields, _ := reply[4].([]any)
	items, err := decodeItems(toString(reply[3]), fields)
	if err != nil {
		return nil, err
	}

	res := &domain.GetItemResult{
		Record: &domain.Record{
			Items:   items,
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		LockID: token,
	}
	if toString(reply[2]) != "" {
		res.Actions = domain.ActionInitializeItem
	}
	return res, nil
}

// encodeItems flattens items into the JSON key order and HSET field/value pairs.
func encodeItems(items *domain.Items) (string, []any, error) {
	keys, values := items.Raw()
	order, err := json.Marshal(keys)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal item order: %w", err)
	}
	pairs := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		data, err := json.Marshal(values[k])
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal item %q: %w", k, err)
		}
		pairs = append(pairs, k, string(data))
	}
	return string(order), pairs, nil
}

func decodeItems(order string, fields []any) (*domain.Items, error) {
	values := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		raw := toString(fields[i+1])
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			// Plain strings written by other tools are kept verbatim.
			v = raw
		}
		values[toString(fields[i])] = v
	}

	var keys []string
	if order != "" {
		if err := json.Unmarshal([]byte(order), &keys); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item order: %w", err)
		}
	}
	// Fields written by other tools are appended in a stable order.
	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}
	var extra []string
	for k := range values {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	items := domain.NewItems()
	items.Load(keys, values)
	return items, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	s := int64(d / time.Second)
	if s == 0 {
		s = 1
	}
	return s
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", domain.ErrStoreUnavailable, op, err)
}
