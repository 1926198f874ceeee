package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisConfigKey      = "proxypool:config:settings"
	redisRevisionKey    = "proxypool:config:revision"
	redisConfigChannel  = "proxypool:config:updates"
	redisOpTimeout      = 5 * time.Second
	resubscribeInterval = time.Second
)

// syncEnvelope is what instances exchange through Redis. Revision comes from
// a shared counter so late or replayed updates can be told apart.
type syncEnvelope struct {
	Origin   string  `json:"origin"`
	Revision int64   `json:"revision"`
	Settings *Config `json:"settings"`
}

func decodeEnvelope(payload []byte) (syncEnvelope, error) {
	var env syncEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return syncEnvelope{}, fmt.Errorf("decode settings envelope: %w", err)
	}
	if env.Settings == nil {
		return syncEnvelope{}, errors.New("decode settings envelope: missing settings")
	}
	return env, nil
}

type redisSync struct {
	client *redis.Client
	origin string
	cancel context.CancelFunc

	mu       sync.Mutex
	revision int64
}

var (
	syncMu     sync.RWMutex
	activeSync *redisSync
)

// EnableRedisSynchronization shares settings between engine instances that use
// the same Redis. Local file reloads are published; remote updates are applied
// in memory only so that file watchers never echo them back.
func EnableRedisSynchronization(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Config synchronization disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	syncMu.Lock()
	if activeSync != nil {
		syncMu.Unlock()
		return
	}
	syncCtx, cancel := context.WithCancel(ctx)
	s := &redisSync{client: client, origin: uuid.NewString(), cancel: cancel}
	activeSync = s
	syncMu.Unlock()

	pubsub := client.Subscribe(syncCtx, redisConfigChannel)
	if _, err := pubsub.Receive(syncCtx); err != nil {
		log.Error("Config sync: subscribe failed", "error", err)
	}

	loaded, err := s.load(syncCtx)
	if err != nil {
		log.Error("Config sync: failed to load configuration from redis", "error", err)
	}
	if !loaded {
		if err := s.publish(syncCtx, GetConfig()); err != nil {
			log.Error("Config sync: failed to publish configuration", "error", err)
		}
	}

	go s.listen(syncCtx, pubsub)
}

// DisableRedisSynchronization stops the subscription started by
// EnableRedisSynchronization.
func DisableRedisSynchronization() {
	syncMu.Lock()
	s := activeSync
	activeSync = nil
	syncMu.Unlock()

	if s != nil {
		s.cancel()
	}
}

// load applies the settings stored under redisConfigKey. It reports false when
// Redis holds nothing usable yet.
func (s *redisSync) load(ctx context.Context) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := s.client.Get(opCtx, redisConfigKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	env, err := decodeEnvelope(payload)
	if err != nil {
		return false, err
	}
	return true, s.apply(env)
}

func (s *redisSync) listen(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			log.Error("Config sync: subscription error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeInterval):
			}
			continue
		}
		s.handle([]byte(msg.Payload))
	}
}

// handle applies a remote update unless it came from this instance or is not
// newer than the last revision seen here.
func (s *redisSync) handle(payload []byte) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		log.Error("Config sync: invalid payload", "error", err)
		return
	}
	if env.Origin == s.origin {
		return
	}
	if err := s.apply(env); err != nil {
		log.Error("Config sync: failed to apply remote update", "error", err)
	}
}

func (s *redisSync) apply(env syncEnvelope) error {
	s.mu.Lock()
	if env.Revision <= s.revision {
		s.mu.Unlock()
		log.Debug("Config sync: ignoring stale update", "revision", env.Revision, "current", s.revision)
		return nil
	}
	s.revision = env.Revision
	s.mu.Unlock()

	return applyConfigUpdate(*env.Settings, configUpdateOptions{source: "redis"})
}

func (s *redisSync) publish(ctx context.Context, cfg Config) error {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	rev, err := s.client.Incr(opCtx, redisRevisionKey).Result()
	if err != nil {
		return fmt.Errorf("next settings revision: %w", err)
	}

	payload, err := json.Marshal(syncEnvelope{Origin: s.origin, Revision: rev, Settings: &cfg})
	if err != nil {
		return fmt.Errorf("serialize configuration: %w", err)
	}

	s.mu.Lock()
	if rev > s.revision {
		s.revision = rev
	}
	s.mu.Unlock()

	if err := s.client.Set(opCtx, redisConfigKey, payload, 0).Err(); err != nil {
		return err
	}
	return s.client.Publish(opCtx, redisConfigChannel, payload).Err()
}

// broadcastConfigUpdate publishes cfg when synchronization is enabled.
func broadcastConfigUpdate(cfg Config) error {
	syncMu.RLock()
	s := activeSync
	syncMu.RUnlock()

	if s == nil {
		return nil
	}
	return s.publish(context.Background(), cfg)
}
