package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Store wraps a single Redis logical database behind the handful of atomic
// operations the engine needs. Two instances run side by side: one on the
// live DB, one on the persistent DB.
type Store struct {
	rdb *redis.Client
}

// Open connects and pings. A failed ping is returned as an error so startup
// can treat store unavailability as fatal.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis %s db %d: %w", addr, db, err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// FlushDB wipes the database. Only ever pointed at the live DB.
func (s *Store) FlushDB(ctx context.Context) error {
	if err := s.rdb.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("failed to flush redis db: %w", err)
	}
	return nil
}

// Level is one price level of a ladder read: the per-price sum key and the
// price carried as the member's score.
type Level struct {
	SumKey string
	Price  float64
}

// ScoredMember is one zset entry with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// ZAddScore inserts or updates member with the given score.
func (s *Store) ZAddScore(ctx context.Context, key string, score float64, member string) error {
	if err := s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to zadd %s: %w", key, err)
	}
	return nil
}

func (s *Store) ZRem(ctx context.Context, key, member string) error {
	if err := s.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("failed to zrem %s: %w", key, err)
	}
	return nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to zcard %s: %w", key, err)
	}
	return n, nil
}

// LevelRange reads ladder entries [start, stop] by rank; desc walks from the
// greatest score (bid preference order).
func (s *Store) LevelRange(ctx context.Context, key string, start, stop int64, desc bool) ([]Level, error) {
	var (
		zs  []redis.Z
		err error
	)
	if desc {
		zs, err = s.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	} else {
		zs, err = s.rdb.ZRangeWithScores(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ladder %s: %w", key, err)
	}
	levels := make([]Level, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		levels = append(levels, Level{SumKey: member, Price: z.Score})
	}
	return levels, nil
}

// ScoreRange reads zset entries with scores in [min, max], ascending.
func (s *Store) ScoreRange(ctx context.Context, key string, min, max float64) ([]ScoredMember, error) {
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read score range %s: %w", key, err)
	}
	members := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, ScoredMember{Member: member, Score: z.Score})
	}
	return members, nil
}

// IncrFloat atomically adds delta to the numeric string at key and returns
// the new value.
func (s *Store) IncrFloat(ctx context.Context, key string, delta float64) (float64, error) {
	v, err := s.rdb.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to incrbyfloat %s: %w", key, err)
	}
	return v, nil
}

// ParseFloat reads a numeric string written by FormatFloat or INCRBYFLOAT.
func ParseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse float %q: %w", s, err)
	}
	return f, nil
}

// Floats fetches numeric strings for keys in one round trip. Entries for
// missing keys are nil so callers can tell an absent key from a zero value.
func (s *Store) Floats(ctx context.Context, keys []string) ([]*float64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget %d keys: %w", len(keys), err)
	}
	out := make([]*float64, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse float at %s: %w", keys[i], err)
		}
		out[i] = &f
	}
	return out, nil
}

func (s *Store) HSetString(ctx context.Context, key, field, value string) error {
	if err := s.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("failed to hset %s %s: %w", key, field, err)
	}
	return nil
}

// HIncrFloat atomically adds delta to a hash field and returns the new value.
func (s *Store) HIncrFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	v, err := s.rdb.HIncrByFloat(ctx, key, field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to hincrbyfloat %s %s: %w", key, field, err)
	}
	return v, nil
}

func (s *Store) HExists(ctx context.Context, key, field string) (bool, error) {
	ok, err := s.rdb.HExists(ctx, key, field).Result()
	if err != nil {
		return false, fmt.Errorf("failed to hexists %s %s: %w", key, field, err)
	}
	return ok, nil
}

func (s *Store) HDel(ctx context.Context, key, field string) error {
	if err := s.rdb.HDel(ctx, key, field).Err(); err != nil {
		return fmt.Errorf("failed to hdel %s %s: %w", key, field, err)
	}
	return nil
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.HLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to hlen %s: %w", key, err)
	}
	return n, nil
}

// HGet returns the field value; ok is false when the field or key is absent.
func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to hget %s %s: %w", key, field, err)
	}
	return v, true, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to hgetall %s: %w", key, err)
	}
	return m, nil
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("failed to sadd %s: %w", key, err)
	}
	return nil
}

// SPopN atomically removes and returns up to n members, so each dirty
// marker is delivered to exactly one refresh pass.
func (s *Store) SPopN(ctx context.Context, key string, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	members, err := s.rdb.SPopN(ctx, key, n).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to spop %s: %w", key, err)
	}
	return members, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Get returns the value at key; ok is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to del %d keys: %w", len(keys), err)
	}
	return nil
}

// FormatFloat renders a float the way edge weights and sums are stored:
// shortest decimal string that round-trips.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
