package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"proxypool/internal/domain"
)

var (
	//go:embed add.lua
	addScriptSource string
	//go:embed adjust.lua
	adjustScriptSource string
	//go:embed dedup.lua
	dedupScriptSource string

	addScript    = redis.NewScript(addScriptSource)
	adjustScript = redis.NewScript(adjustScriptSource)
	dedupScript  = redis.NewScript(dedupScriptSource)
)

const (
	scriptRetries    = 3
	scriptRetryDelay = 100 * time.Millisecond
)

// RedisStore keeps records in a sorted set scored 0..100. A hash maps each
// identity to its member so score changes run as single Lua scripts.
type RedisStore struct {
	client   *redis.Client
	key      string
	indexKey string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: key, indexKey: key + ":index"}
}

func (s *RedisStore) Add(ctx context.Context, record domain.ProxyRecord) (bool, error) {
	member, err := domain.EncodeRecord(record)
	if err != nil {
		return false, err
	}

	res, err := s.run(ctx, addScript, []string{s.key, s.indexKey},
		record.Identity().String(), member, InitialScore)
	if err != nil {
		return false, fmt.Errorf("add proxy %s: %w", record.Address(), err)
	}

	added, err := parseAddReply(res)
	if err != nil {
		return false, fmt.Errorf("add proxy %s: %w", record.Address(), err)
	}
	return added, nil
}

func parseAddReply(res interface{}) (bool, error) {
	n, ok := res.(int64)
	if !ok || (n != 0 && n != 1) {
		return false, fmt.Errorf("unexpected reply %v", res)
	}
	return n == 1, nil
}

func (s *RedisStore) IncreaseScore(ctx context.Context, id domain.Identity) (Adjustment, error) {
	return s.adjust(ctx, id, 1)
}

func (s *RedisStore) DecreaseScore(ctx context.Context, id domain.Identity) (Adjustment, error) {
	return s.adjust(ctx, id, -1)
}

func (s *RedisStore) adjust(ctx context.Context, id domain.Identity, delta int) (Adjustment, error) {
	res, err := s.run(ctx, adjustScript, []string{s.key, s.indexKey},
		id.String(), delta, MinScore, MaxScore)
	if err != nil {
		return Adjustment{}, fmt.Errorf("adjust score of %s: %w", id, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return Adjustment{}, fmt.Errorf("adjust score of %s: unexpected reply %v", id, res)
	}

	adj := Adjustment{
		Found:   toInt(values[0]) == 1,
		Removed: toInt(values[1]) == 1,
		Score:   toInt(values[2]),
	}
	switch {
	case adj.Removed:
		log.Info("Removed proxy due to low score", "proxy", id.String())
	case adj.Found:
		log.Debug("Adjusted proxy score", "proxy", id.String(), "score", adj.Score)
	}
	return adj, nil
}

func (s *RedisStore) AllValid(ctx context.Context) ([]domain.ProxyRecord, error) {
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, s.key, &redis.ZRangeBy{
		Max: "+inf",
		Min: "(" + strconv.Itoa(MinScore),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list valid proxies: %w", err)
	}
	return decodeEntries(toEntries(zs)), nil
}

func (s *RedisStore) All(ctx context.Context) ([]domain.ProxyRecord, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	return decodeEntries(entries), nil
}

func (s *RedisStore) Score(ctx context.Context, id domain.Identity) (int, bool, error) {
	member, err := s.client.HGet(ctx, s.indexKey, id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s: %w", id, err)
	}

	score, err := s.client.ZScore(ctx, s.key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("score of %s: %w", id, err)
	}
	return int(math.Round(score)), true, nil
}

// RemoveDuplicates deletes the members captured by one scan in a single
// script call and points the index at the surviving members. Entries added
// after the scan are never touched.
func (s *RedisStore) RemoveDuplicates(ctx context.Context) (int, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}

	plan := planDuplicates(entries)
	plan.logUndecoded()

	args := make([]interface{}, 0, 1+len(plan.removed)+2*len(plan.survivors))
	args = append(args, len(plan.removed))
	for _, member := range plan.removed {
		args = append(args, member)
	}
	for id, member := range plan.survivors {
		args = append(args, id.String(), member)
	}

	res, err := s.run(ctx, dedupScript, []string{s.key, s.indexKey}, args...)
	if err != nil {
		return 0, fmt.Errorf("remove duplicates: %w", err)
	}
	return toInt(res), nil
}

func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count proxies: %w", err)
	}
	return n, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) scan(ctx context.Context) ([]entry, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan proxies: %w", err)
	}
	return toEntries(zs), nil
}

// run executes script, retrying only replies that guarantee the script did
// not run.
func (s *RedisStore) run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt < scriptRetries; attempt++ {
		res, err := script.Run(ctx, s.client, keys, args...).Result()
		if err == nil {
			return res, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(scriptRetryDelay * time.Duration(attempt+1)):
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"LOADING", "BUSY", "TRYAGAIN", "MASTERDOWN"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func toEntries(zs []redis.Z) []entry {
	entries := make([]entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, entry{member: member, score: int(math.Round(z.Score))})
	}
	return entries
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
