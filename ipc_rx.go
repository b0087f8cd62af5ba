package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ipcCommandChannel = "motor-server:command"
	ipcRetryTime      = 2 * time.Second
)

// IPCRx feeds command lines published on Redis into the same message queue
// the command channel writes to
type IPCRx struct {
	log      *LeveledLogger
	redis    *redis.Client
	messages *Queue[string]
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	commandSubscription *redis.PubSub
}

func NewIPCRx(logger *LeveledLogger, redis *redis.Client, messages *Queue[string]) *IPCRx {
	ctx, cancel := context.WithCancel(context.Background())

	rx := &IPCRx{
		log:      logger,
		redis:    redis,
		messages: messages,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	rx.commandSubscription = rx.redis.Subscribe(rx.ctx, ipcCommandChannel)
	go rx.handleCommandSubscription()

	return rx
}

func (rx *IPCRx) handleCommandSubscription() {
	defer close(rx.done)

	rx.log.Info("Starting command subscription handler on %s", ipcCommandChannel)

	for {
		msg, err := rx.commandSubscription.Receive(rx.ctx)
		if err != nil {
			if rx.ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.ErrClosed) {
				rx.log.Error("Redis connection lost on command subscription")
				return
			}
			rx.log.Error("Command subscription error: %v", err)
			select {
			case <-rx.ctx.Done():
				return
			case <-time.After(ipcRetryTime):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Message:
			rx.log.Debug("Command message received: channel=%s, payload=%s", m.Channel, m.Payload)
			for _, line := range splitLines([]byte(m.Payload)) {
				rx.messages.Push(line)
			}

		case *redis.Subscription:
			rx.log.Debug("Command subscription event: %s %s", m.Channel, m.Kind)
		}
	}
}

func (rx *IPCRx) Destroy() {
	rx.mu.Lock()
	defer rx.mu.Unlock()

	if rx.cancel != nil {
		rx.cancel()
	}

	if rx.commandSubscription != nil {
		rx.commandSubscription.Close()
	}

	<-rx.done
}
