package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"motor-server/protocol"
)

const (
	ipcHashKey    = "motor-server"
	ipcAckChannel = "motor-server:ack"
)

// IPCTx mirrors the service state into Redis. A nil IPCTx, or one without a
// client, accepts every call and does nothing.
type IPCTx struct {
	log   *LeveledLogger
	redis *redis.Client
	mu    sync.Mutex
	ctx   context.Context
}

func NewIPCTx(logger *LeveledLogger, redis *redis.Client) *IPCTx {
	return &IPCTx{
		log:   logger,
		redis: redis,
		ctx:   context.Background(),
	}
}

func (tx *IPCTx) enabled() bool {
	return tx != nil && tx.redis != nil
}

func (tx *IPCTx) Destroy() {}

func (tx *IPCTx) SendMotorState(data RedisMotorState) error {
	if !tx.enabled() {
		return nil
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, ipcHashKey, map[string]interface{}{
		"direction":    data.Direction,
		"power":        data.Power,
		"acceleration": data.Acceleration,
		"in-motion":    map[bool]string{true: "yes", false: "no"}[data.InMotion],
	})

	pipe.Publish(tx.ctx, ipcHashKey, "state")

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send motor state: %w", err)
	}

	return nil
}

func (tx *IPCTx) SendRPM(rpm float64) error {
	if !tx.enabled() {
		return nil
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.redis.HSet(tx.ctx, ipcHashKey,
		"rpm", protocol.FormatRPM(rpm),
	).Err(); err != nil {
		return fmt.Errorf("failed to send rpm: %w", err)
	}

	return nil
}

func (tx *IPCTx) SendSpeedReporting(enabled bool) error {
	if !tx.enabled() {
		return nil
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, ipcHashKey,
		"speed-reporting", map[bool]string{true: "on", false: "off"}[enabled],
	)
	if !enabled {
		pipe.HDel(tx.ctx, ipcHashKey, "rpm")
	}
	pipe.Publish(tx.ctx, ipcHashKey, "speed-reporting")

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send speed reporting state: %w", err)
	}

	return nil
}

func (tx *IPCTx) SendSupply(data RedisSupply) error {
	if !tx.enabled() {
		return nil
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.redis.HSet(tx.ctx, ipcHashKey, map[string]interface{}{
		"supply:voltage":     protocol.Truncate(data.BusVoltage, 3),
		"supply:current":     protocol.Truncate(data.Current, 3),
		"supply:power":       protocol.Truncate(data.Power, 3),
		"supply:voltage-avg": protocol.Truncate(data.AvgVoltage, 3),
		"supply:current-avg": protocol.Truncate(data.AvgCurrent, 3),
	}).Err(); err != nil {
		return fmt.Errorf("failed to send supply: %w", err)
	}

	return nil
}

func (tx *IPCTx) SendConnection(data RedisConnection) error {
	if !tx.enabled() {
		return nil
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, ipcHashKey,
		data.Channel+":state", data.State.String(),
		data.Channel+":session", data.Session,
	)
	pipe.Publish(tx.ctx, ipcHashKey, data.Channel)

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send %s connection state: %w", data.Channel, err)
	}

	return nil
}

// SendAck publishes an acknowledgment for Redis-side command producers
func (tx *IPCTx) SendAck(text string) error {
	if !tx.enabled() {
		return nil
	}

	if err := tx.redis.Publish(tx.ctx, ipcAckChannel, text).Err(); err != nil {
		return fmt.Errorf("failed to publish ack: %w", err)
	}

	return nil
}
