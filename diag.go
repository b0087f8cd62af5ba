package main

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
)

const (
	diagGroupName           = "motor-server"
	diagFaultSetKey         = "motor-server:fault"
	diagEventStream         = "events:faults"
	diagEventStreamMaxLen   = 1000
	diagNotificationChannel = "motor-server"
)

// HardwareFault identifies a degraded hardware collaborator
type HardwareFault int

const (
	FaultNone HardwareFault = iota
	FaultDriveLines
	FaultEdgeDetector
	FaultPowerSensor
)

var faultDescriptions = map[HardwareFault]string{
	FaultDriveLines:   "Drive line write failed",
	FaultEdgeDetector: "Magnet detector unavailable",
	FaultPowerSensor:  "Power sensor unavailable",
}

// Diag tracks hardware faults and reports transitions to Redis. Without a
// Redis client it only logs.
type Diag struct {
	log         *LeveledLogger
	redis       *redis.Client
	mu          sync.RWMutex
	faultStates map[HardwareFault]bool
	ctx         context.Context
}

func NewDiag(logger *LeveledLogger, redis *redis.Client) *Diag {
	return &Diag{
		log:         logger,
		redis:       redis,
		faultStates: make(map[HardwareFault]bool),
		ctx:         context.Background(),
	}
}

func (d *Diag) Destroy() {}

func (d *Diag) SetFaultPresence(fault HardwareFault, present bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if fault == FaultNone {
		return
	}

	description, ok := faultDescriptions[fault]
	if !ok {
		d.log.Warn("Unknown fault code: %d", fault)
		return
	}

	if d.faultStates[fault] == present {
		return
	}
	d.faultStates[fault] = present

	if present {
		d.log.Error("Fault set: code=%d, description=%s", fault, description)
		d.reportFaultPresent(fault, description)
	} else {
		d.log.Info("Fault cleared: code=%d, description=%s", fault, description)
		d.reportFaultAbsent(fault)
	}
}

func (d *Diag) FaultPresent(fault HardwareFault) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.faultStates[fault]
}

func (d *Diag) reportFaultPresent(fault HardwareFault, description string) {
	if d.redis == nil {
		return
	}

	pipe := d.redis.Pipeline()

	pipe.SAdd(d.ctx, diagFaultSetKey, int(fault))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: diagEventStream,
		MaxLen: diagEventStreamMaxLen,
		Values: map[string]interface{}{
			"group":       diagGroupName,
			"code":        int(fault),
			"description": description,
		},
	})

	pipe.Publish(d.ctx, diagNotificationChannel, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		d.log.Warn("Failed to report fault present: %v", err)
	}
}

func (d *Diag) reportFaultAbsent(fault HardwareFault) {
	if d.redis == nil {
		return
	}

	pipe := d.redis.Pipeline()

	pipe.SRem(d.ctx, diagFaultSetKey, int(fault))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: diagEventStream,
		MaxLen: diagEventStreamMaxLen,
		Values: map[string]interface{}{
			"group": diagGroupName,
			"code":  -int(fault),
		},
	})

	pipe.Publish(d.ctx, diagNotificationChannel, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		d.log.Warn("Failed to report fault absent: %v", err)
	}
}
