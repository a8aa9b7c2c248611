// Package persistence is the Redis-backed key/value store behind every
// package that needs durable state across a restart or a primary/backup
// failover: internal/topology's routes, internal/flowverifier's shadow
// flow tables, and internal/mastership's preconfigured-switch baseline.
// It also owns the replication-role control the original's RedisDatabase
// exposed — setupMasterRole/setupSlaveOf — so a promoted backup can
// point its own Redis instance at the new primary's.
package persistence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/config"
)

// Store is a Redis client satisfying every package's narrow Store
// interface (internal/topology, internal/flowverifier,
// internal/mastership each declare their own, identical in shape, so
// none of them has to import this package directly).
type Store struct {
	log    *logrus.Entry
	client *redis.Client
	ctx    context.Context
}

// New dials cfg's Redis endpoint and, mirroring the original's
// DatabaseConnector::init unconditionally calling setupMasterRole right
// after connecting, claims the master role for this node. A caller that
// starts up already in backup mode corrects this immediately afterward
// with ReplicaOf.
func New(cfg config.DatabaseConnector, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("persistence: connecting to %s: %w", cfg.Addr(), err)
	}

	s := &Store{log: log, client: client, ctx: ctx}
	if err := s.SetupMasterRole(); err != nil {
		log.WithError(err).Warn("persistence: claiming master role")
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Set stores value under key with no expiry, the original's putValue.
func (s *Store) Set(key string, value []byte) error {
	if err := s.client.Set(s.ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("persistence: SET %s: %w", key, err)
	}
	return nil
}

// Get retrieves key's value, the original's getValue/getDoc. The second
// return is false (not an error) when the key does not exist, so
// callers can tell "never written" apart from a connection failure.
func (s *Store) Get(key string) ([]byte, bool, error) {
	val, err := s.client.Get(s.ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persistence: GET %s: %w", key, err)
	}
	return val, true, nil
}

// Delete removes key, the original's delValue. Deleting a key that was
// never set is not an error, matching Redis's own DEL semantics.
func (s *Store) Delete(key string) error {
	if err := s.client.Del(s.ctx, key).Err(); err != nil {
		return fmt.Errorf("persistence: DEL %s: %w", key, err)
	}
	return nil
}

// Keys lists every key with the given prefix, the original's getKeys —
// KEYS rather than a cursor-based SCAN, the same trade the original
// makes (a point-in-time snapshot is fine; this runs at startup/recovery,
// never on a hot path).
func (s *Store) Keys(prefix string) ([]string, error) {
	keys, err := s.client.Keys(s.ctx, prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("persistence: KEYS %s*: %w", prefix, err)
	}
	return keys, nil
}

// ClearAll deletes every key in the selected database, the original's
// clearDB. Used only by tests and a fresh-recovery reset path, never by
// a running primary.
func (s *Store) ClearAll() error {
	if err := s.client.FlushDB(s.ctx).Err(); err != nil {
		return fmt.Errorf("persistence: FLUSHDB: %w", err)
	}
	return nil
}

// SetupMasterRole detaches this Redis instance from any master it was
// replicating, the original's setupMasterRole (SLAVEOF NO ONE).
func (s *Store) SetupMasterRole() error {
	if err := s.client.SlaveOf(s.ctx, "NO", "ONE").Err(); err != nil {
		return fmt.Errorf("persistence: SLAVEOF NO ONE: %w", err)
	}
	return nil
}

// ReplicaOf points this Redis instance at addr:port as its replication
// master, the original's setupSlaveOf — the signature mastership.Manager
// expects for ParamsReceived's setupReplicaOf callback.
func (s *Store) ReplicaOf(addr string, port int) {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	if err := s.client.SlaveOf(s.ctx, host, strconv.Itoa(port)).Err(); err != nil {
		s.log.WithError(err).WithField("master", fmt.Sprintf("%s:%d", host, port)).
			Error("persistence: SLAVEOF")
	}
}
