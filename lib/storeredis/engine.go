// Package storeredis implements the nchan storage/pub-sub engine (spec §4)
// as a set of atomic Lua scripts executed against Redis. The design - a
// connection pool, Sentinel-aware dialer, and scripts loaded once and
// invoked by EVALSHA - is adapted from a Redis-backed channel engine in the
// reference corpus; the scripts themselves implement the channel/message/
// subscriber semantics this module specifies.
package storeredis

import (
	"errors"
	"hash/fnv"
	"net"
	"sync"
	"time"

	"github.com/FZambia/go-sentinel"
	"github.com/garyburd/redigo/redis"

	"github.com/float001/nchan/lib/logging"
	"github.com/float001/nchan/lib/store"
)

// Engine dispatches the eleven nchan operations across one or more Redis
// shards. With a single shard (the common case) every channel lands on it;
// with more than one, channels are routed by a stable hash of the channel
// id, same as the teacher engine's shardIndex.
type Engine struct {
	log      *logging.HandlerLogger
	shards   []*Shard
	sharding bool
}

// Config configures the whole engine.
type Config struct {
	Shards []*ShardConfig
	Logger *logging.HandlerLogger
}

// ShardConfig configures one Redis shard connection.
type ShardConfig struct {
	// Host/Port/Password/DB describe the Redis (or Sentinel-monitored
	// master) endpoint.
	Host     string
	Port     string
	Password string
	DB       int

	// MasterName/SentinelAddrs enable Sentinel-based master discovery; when
	// MasterName is set and SentinelAddrs is non-empty, Host/Port are
	// ignored in favor of whatever Sentinel reports as master.
	MasterName    string
	SentinelAddrs []string

	// Prefix is prepended to every key this shard manages (§4.a).
	Prefix string

	PoolSize       int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// New builds an Engine from Config, dialing (lazily, via the connection
// pool) each configured shard.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Shards) == 0 {
		return nil, errors.New("storeredis: at least one shard is required")
	}
	log := cfg.Logger
	shards := make([]*Shard, 0, len(cfg.Shards))
	for _, sc := range cfg.Shards {
		shard, err := newShard(sc, log)
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}
	return &Engine{
		log:      log,
		shards:   shards,
		sharding: len(shards) > 1,
	}, nil
}

// Close releases every shard's connection pool.
func (e *Engine) Close() error {
	var firstErr error
	for _, s := range e.shards {
		if err := s.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// shardFor returns the shard responsible for a channel id.
func (e *Engine) shardFor(channelID string) *Shard {
	if !e.sharding {
		return e.shards[0]
	}
	return e.shards[shardIndex(channelID, len(e.shards))]
}

func shardIndex(channelID string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(channelID))
	return int(h.Sum32() % uint32(numShards))
}

// Shard owns one Redis connection pool plus the eleven loaded scripts.
type Shard struct {
	mu     sync.RWMutex
	config *ShardConfig
	pool   *redis.Pool
	log    *logging.HandlerLogger
	keys   store.KeySpace

	scripts *scriptSet
}

func newShard(cfg *ShardConfig, log *logging.HandlerLogger) (*Shard, error) {
	s := &Shard{
		config: cfg,
		pool:   newPool(cfg, log),
		log:    log,
		keys:   store.KeySpace{Prefix: cfg.Prefix},
	}
	s.scripts = newScriptSet()
	return s, nil
}

// EnsureScriptsLoaded loads every operation's Lua script into the Redis
// script cache so subsequent calls can use EVALSHA. It is idempotent and
// safe to call again after a Redis restart flushed the script cache - the
// per-operation Do wrapper also retries once on NOSCRIPT.
func (s *Shard) EnsureScriptsLoaded() error {
	conn := s.pool.Get()
	defer conn.Close()
	return s.scripts.loadAll(conn)
}

func newPool(conf *ShardConfig, log *logging.HandlerLogger) *redis.Pool {
	host, port, password, db := conf.Host, conf.Port, conf.Password, conf.DB
	serverAddr := net.JoinHostPort(host, port)
	useSentinel := conf.MasterName != "" && len(conf.SentinelAddrs) > 0

	maxIdle := 10
	if conf.PoolSize > 0 && conf.PoolSize < maxIdle {
		maxIdle = conf.PoolSize
	}

	var sntnl *sentinel.Sentinel
	if useSentinel {
		sntnl = &sentinel.Sentinel{
			Addrs:      conf.SentinelAddrs,
			MasterName: conf.MasterName,
			Dial: func(addr string) (redis.Conn, error) {
				timeout := 300 * time.Millisecond
				return redis.DialTimeout("tcp", addr, timeout, timeout, timeout)
			},
		}
		go func() {
			if err := sntnl.Discover(); err != nil {
				log.Log(logging.NewEntry(logging.ERROR, "sentinel discover failed", map[string]interface{}{"error": err}))
			}
			for range time.Tick(30 * time.Second) {
				if err := sntnl.Discover(); err != nil {
					log.Log(logging.NewEntry(logging.ERROR, "sentinel discover failed", map[string]interface{}{"error": err}))
				}
			}
		}()
	}

	return &redis.Pool{
		MaxIdle:     maxIdle,
		MaxActive:   conf.PoolSize,
		Wait:        true,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			addr := serverAddr
			var err error
			if useSentinel {
				addr, err = sntnl.MasterAddr()
				if err != nil {
					return nil, err
				}
			}
			c, err := redis.DialTimeout("tcp", addr, conf.ConnectTimeout, conf.ReadTimeout, conf.WriteTimeout)
			if err != nil {
				return nil, err
			}
			if password != "" {
				if _, err := c.Do("AUTH", password); err != nil {
					c.Close()
					return nil, err
				}
			}
			if db != 0 {
				if _, err := c.Do("SELECT", db); err != nil {
					c.Close()
					return nil, err
				}
			}
			return c, nil
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if useSentinel {
				if !sentinel.TestRole(c, "master") {
					return errors.New("storeredis: sentinel master role check failed")
				}
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}
