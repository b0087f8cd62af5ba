package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EndpointReadBufferSize = 1024
	EndpointWriteTimeout   = 2 * time.Second
	EndpointAcceptBackoff  = 500 * time.Millisecond
)

type EndpointState int

const (
	StateListening EndpointState = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s EndpointState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "listening"
	}
}

// Endpoint is one TCP text-line channel serving a single client at a time.
// Lines read from the client are pushed to the inbound queue.
type Endpoint struct {
	name    string
	addr    string
	log     *LeveledLogger
	inbound *Queue[string]

	// OnDisconnect runs on the endpoint goroutine after a client is gone
	OnDisconnect func()
	// OnStateChange runs on every state transition
	OnStateChange func(state EndpointState, session string)

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	session  string
	state    EndpointState

	wg sync.WaitGroup
}

func NewEndpoint(logger *LeveledLogger, name, addr string, inbound *Queue[string]) *Endpoint {
	return &Endpoint{
		name:    name,
		addr:    addr,
		log:     logger,
		inbound: inbound,
	}
}

// Listen binds the endpoint address
func (e *Endpoint) Listen() error {
	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s for %s channel: %w", e.addr, e.name, err)
	}

	e.mu.Lock()
	e.listener = ln
	e.mu.Unlock()
	e.setState(StateListening)

	e.log.Info("%s channel listening on %s", e.name, ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Serve runs the accept loop until ctx is done or the endpoint is closed
func (e *Endpoint) Serve(ctx context.Context) {
	e.mu.Lock()
	ln := e.listener
	e.mu.Unlock()

	if ln == nil {
		e.log.Error("%s channel served before listening", e.name)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-ctx.Done()
		e.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			e.log.Error("%s channel accept failed: %v", e.name, err)
			e.setState(StateError)
			time.Sleep(EndpointAcceptBackoff)
			e.setState(StateListening)
			continue
		}

		session := uuid.New().String()
		e.mu.Lock()
		e.conn = conn
		e.session = session
		e.mu.Unlock()
		e.setState(StateConnected)

		e.log.Info("%s channel connected: %s (session %s)", e.name, conn.RemoteAddr(), session)

		err = e.read(conn)

		e.mu.Lock()
		if e.conn == conn {
			e.conn = nil
			e.session = ""
		}
		e.mu.Unlock()
		conn.Close()

		if err != nil {
			e.log.Warn("%v", &ConnectionError{Channel: e.name, Err: err})
			e.setState(StateError)
		} else {
			e.log.Info("%s channel disconnected (session %s)", e.name, session)
			e.setState(StateDisconnected)
		}

		if e.OnDisconnect != nil {
			e.OnDisconnect()
		}

		if ctx.Err() != nil {
			return
		}
		e.setState(StateListening)
	}
}

// read pushes every line of every chunk until the peer goes away. A clean
// close, or a local hangup, returns nil.
func (e *Endpoint) read(conn net.Conn) error {
	buf := make([]byte, EndpointReadBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, line := range splitLines(buf[:n]) {
				e.log.Debug("%s channel received: %q", e.name, line)
				e.inbound.Push(line)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// splitLines treats CR and LF as terminators and keeps an unterminated tail
func splitLines(chunk []byte) []string {
	var lines []string
	for _, seg := range strings.FieldsFunc(string(chunk), func(r rune) bool {
		return r == '\r' || r == '\n'
	}) {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		lines = append(lines, seg)
	}
	return lines
}

// Send writes msg and a newline to the connected client. Without a client
// it returns ErrNotConnected. A failed write drops the client.
func (e *Endpoint) Send(msg string) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(time.Now().Add(EndpointWriteTimeout)); err != nil {
		conn.Close()
		return &ConnectionError{Channel: e.name, Err: err}
	}
	if _, err := io.WriteString(conn, msg+"\n"); err != nil {
		conn.Close()
		return &ConnectionError{Channel: e.name, Err: err}
	}

	return nil
}

// Hangup drops the connected client, if any. The endpoint keeps listening.
func (e *Endpoint) Hangup() {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	if conn != nil {
		e.log.Info("%s channel hanging up", e.name)
		conn.Close()
	}
}

func (e *Endpoint) State() EndpointState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Session returns the id of the connected client, or "" when idle
func (e *Endpoint) Session() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *Endpoint) setState(s EndpointState) {
	e.mu.Lock()
	e.state = s
	session := e.session
	e.mu.Unlock()

	if e.OnStateChange != nil {
		e.OnStateChange(s, session)
	}
}

// Close stops listening and drops the client
func (e *Endpoint) Close() {
	e.mu.Lock()
	ln := e.listener
	conn := e.conn
	e.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

// Wait blocks until the shutdown watcher started by Serve is done
func (e *Endpoint) Wait() {
	e.wg.Wait()
}
