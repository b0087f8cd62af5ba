package main

import (
	"errors"
	"fmt"
)

var ErrNotConnected = errors.New("no client connected")

// ConnectionError is a peer close or I/O failure on one of the endpoints.
// The endpoint drops the client and goes back to listening.
type ConnectionError struct {
	Channel string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s channel: %v", e.Channel, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HardwareError is a setup or I/O failure of a hardware collaborator
type HardwareError struct {
	Component string
	Err       error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}
