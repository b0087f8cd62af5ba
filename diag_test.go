package main

import (
	"errors"
	"io"
	"testing"
)

func TestDiag_FaultTransitions(t *testing.T) {
	d := NewDiag(newTestLogger(), nil)

	if d.FaultPresent(FaultPowerSensor) {
		t.Fatal("fault present before being set")
	}

	d.SetFaultPresence(FaultPowerSensor, true)
	d.SetFaultPresence(FaultPowerSensor, true)
	if !d.FaultPresent(FaultPowerSensor) {
		t.Fatal("expected power sensor fault")
	}
	if d.FaultPresent(FaultDriveLines) {
		t.Fatal("unrelated fault reported")
	}

	d.SetFaultPresence(FaultPowerSensor, false)
	if d.FaultPresent(FaultPowerSensor) {
		t.Fatal("fault not cleared")
	}
}

func TestDiag_IgnoresUnknownFaults(t *testing.T) {
	d := NewDiag(newTestLogger(), nil)

	d.SetFaultPresence(FaultNone, true)
	d.SetFaultPresence(HardwareFault(42), true)

	if d.FaultPresent(FaultNone) || d.FaultPresent(HardwareFault(42)) {
		t.Fatal("unknown faults must not be tracked")
	}
}

func TestErrors_Unwrap(t *testing.T) {
	conn := &ConnectionError{Channel: "command", Err: io.ErrUnexpectedEOF}
	if !errors.Is(conn, io.ErrUnexpectedEOF) {
		t.Fatal("ConnectionError does not unwrap")
	}
	if conn.Error() != "command channel: unexpected EOF" {
		t.Fatalf("unexpected message %q", conn.Error())
	}

	hw := &HardwareError{Component: "gpio", Err: ErrNotConnected}
	if !errors.Is(hw, ErrNotConnected) {
		t.Fatal("HardwareError does not unwrap")
	}

	var target *HardwareError
	wrapped := errors.Join(errors.New("setup"), hw)
	if !errors.As(wrapped, &target) || target.Component != "gpio" {
		t.Fatal("HardwareError not found in joined error")
	}
}

func TestIPCTx_NilSafe(t *testing.T) {
	var nilTx *IPCTx
	if err := nilTx.SendRPM(12.5); err != nil {
		t.Fatalf("nil IPCTx returned %v", err)
	}

	tx := NewIPCTx(newTestLogger(), nil)
	if err := tx.SendAck("Command 'TSI' received."); err != nil {
		t.Fatalf("IPCTx without redis returned %v", err)
	}
	if err := tx.SendConnection(RedisConnection{Channel: "command", State: StateConnected}); err != nil {
		t.Fatalf("IPCTx without redis returned %v", err)
	}
}
