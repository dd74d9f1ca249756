package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"placecraft/internal/sim/world"
)

// redisMirror republishes the audit stream to a Redis channel so external
// consumers (dashboards, regional relays) can follow mutations without a
// world connection. Disabled unless PC_REDIS_ADDR is set; publish failures
// are counted, never propagated to the loop.
type redisMirror struct {
	enabled bool
	rdb     *redis.Client
	channel string
	logger  *log.Logger

	publishedTotal   atomic.Uint64
	publishFailTotal atomic.Uint64
	lastErrorUnix    atomic.Int64
}

func buildRedisMirror(worldID string, logger *log.Logger) (*redisMirror, error) {
	addr := strings.TrimSpace(os.Getenv("PC_REDIS_ADDR"))
	if addr == "" {
		return &redisMirror{}, nil
	}

	channel := strings.TrimSpace(os.Getenv("PC_REDIS_CHANNEL"))
	if channel == "" {
		channel = fmt.Sprintf("placecraft.audit.%s", worldID)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("PC_REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	logger.Printf("redis mirror: publishing audits to %s on %s", channel, addr)
	return &redisMirror{enabled: true, rdb: rdb, channel: channel, logger: logger}, nil
}

func (m *redisMirror) WriteAudit(entry world.AuditEntry) error {
	if m == nil || !m.enabled {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.rdb.Publish(ctx, m.channel, b).Err(); err != nil {
		m.publishFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().Unix())
		return nil
	}
	m.publishedTotal.Add(1)
	return nil
}

func (m *redisMirror) Close() error {
	if m == nil || !m.enabled {
		return nil
	}
	return m.rdb.Close()
}

type redisMirrorStats struct {
	Enabled          bool
	PublishedTotal   uint64
	PublishFailTotal uint64
	LastErrorUnix    int64
}

func (m *redisMirror) Stats() redisMirrorStats {
	if m == nil {
		return redisMirrorStats{}
	}
	return redisMirrorStats{
		Enabled:          m.enabled,
		PublishedTotal:   m.publishedTotal.Load(),
		PublishFailTotal: m.publishFailTotal.Load(),
		LastErrorUnix:    m.lastErrorUnix.Load(),
	}
}
