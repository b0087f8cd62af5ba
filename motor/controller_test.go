package motor

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type lineWrite struct {
	pin   Pin
	level Level
}

// recordLines implements DriveLines for testing
type recordLines struct {
	mu     sync.Mutex
	writes []lineWrite
	err    error
}

func (r *recordLines) SetDriveLine(pin Pin, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, lineWrite{pin, level})
	return nil
}

func (r *recordLines) last(pin Pin) (Level, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.writes) - 1; i >= 0; i-- {
		if r.writes[i].pin == pin {
			return r.writes[i].level, true
		}
	}
	return Low, false
}

type stepRecord struct {
	dir   Direction
	power int
}

func newFastController(t *testing.T, lines DriveLines, steps *[]stepRecord) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Lines = lines
	cfg.TickUnit = 50 * time.Microsecond
	cfg.PWMFrequency = 20000
	if steps != nil {
		cfg.OnStep = func(dir Direction, power int) {
			*steps = append(*steps, stepRecord{dir, power})
		}
	}
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNewController_RequiresLines(t *testing.T) {
	_, err := NewController(Config{})
	if !errors.Is(err, ErrNoDriveLines) {
		t.Errorf("expected ErrNoDriveLines, got %v", err)
	}
}

func TestNewController_DrivesLinesLow(t *testing.T) {
	lines := &recordLines{}
	newFastController(t, lines, nil)

	for _, pin := range []Pin{17, 18} {
		level, ok := lines.last(pin)
		if !ok || level != Low {
			t.Errorf("expected pin %d low after setup, got %v (written=%v)", pin, level, ok)
		}
	}
}

func TestTargetSteps(t *testing.T) {
	c := newFastController(t, &recordLines{}, nil)

	tests := []struct {
		volts    float64
		expected int
	}{
		{0, 0},
		{-3, 0},
		{0.04, 0},
		{0.05, 1},
		{6.25, 63},
		{12, 120},
		{12.5, 120},
		{1000, 120},
	}

	for _, tt := range tests {
		if got := c.TargetSteps(tt.volts); got != tt.expected {
			t.Errorf("TargetSteps(%v): expected %d, got %d", tt.volts, tt.expected, got)
		}
	}
}

func TestSetAcceleration_Clamps(t *testing.T) {
	c := newFastController(t, &recordLines{}, nil)

	tests := []struct {
		level    int
		expected int
	}{
		{-4, 1},
		{0, 1},
		{1, 1},
		{5, 5},
		{10, 10},
		{42, 10},
	}

	for _, tt := range tests {
		c.SetAcceleration(tt.level)
		if got := c.State().Acceleration; got != tt.expected {
			t.Errorf("SetAcceleration(%d): expected %d, got %d", tt.level, tt.expected, got)
		}
	}
}

func TestDutySplit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lines = &recordLines{}
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		power   int
		on, off time.Duration
	}{
		{0, 0, time.Millisecond},
		{60, 500 * time.Microsecond, 500 * time.Microsecond},
		{120, time.Millisecond, 0},
		{500, time.Millisecond, 0},
	}

	for _, tt := range tests {
		on, off := c.dutySplit(tt.power)
		if on != tt.on || off != tt.off {
			t.Errorf("dutySplit(%d): expected %v/%v, got %v/%v", tt.power, tt.on, tt.off, on, off)
		}
	}
}

func TestTickDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lines = &recordLines{}
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.SetAcceleration(10)
	if got := c.tickDuration(); got != 2*time.Millisecond {
		t.Errorf("expected 2ms tick at acceleration 10, got %v", got)
	}
	c.SetAcceleration(1)
	if got := c.tickDuration(); got != 20*time.Millisecond {
		t.Errorf("expected 20ms tick at acceleration 1, got %v", got)
	}
}

func TestTurnCW_RampsOneStepPerTick(t *testing.T) {
	var steps []stepRecord
	c := newFastController(t, &recordLines{}, &steps)

	if err := c.TurnCW(12, 30); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(steps) == 0 {
		t.Fatal("expected power steps")
	}

	prev := 0
	for i, s := range steps {
		if s.dir != DirectionCW {
			t.Fatalf("step %d: expected CW, got %s", i, s.dir)
		}
		if s.power != prev+1 {
			t.Fatalf("step %d: expected power %d, got %d", i, prev+1, s.power)
		}
		if s.power > c.MaxSteps() {
			t.Fatalf("step %d: power %d exceeds max %d", i, s.power, c.MaxSteps())
		}
		prev = s.power
	}

	state := c.State()
	if state.Direction != DirectionCW {
		t.Errorf("expected direction CW, got %s", state.Direction)
	}
	if state.LastPower != prev {
		t.Errorf("expected last power %d, got %d", prev, state.LastPower)
	}
	if !state.InMotion {
		t.Error("expected motor in motion until stopped")
	}
}

func TestTurn_RampsDownTowardLowerTarget(t *testing.T) {
	var steps []stepRecord
	c := newFastController(t, &recordLines{}, &steps)

	if err := c.TurnCW(2, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.State().LastPower; got != 20 {
		t.Fatalf("expected to settle at 20 steps, got %d", got)
	}

	steps = steps[:0]
	if err := c.TurnCW(1, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prev := 20
	for i, s := range steps {
		if s.power != prev-1 {
			t.Fatalf("step %d: expected power %d, got %d", i, prev-1, s.power)
		}
		prev = s.power
	}
	if got := c.State().LastPower; got != 10 {
		t.Errorf("expected to settle at 10 steps, got %d", got)
	}
}

func TestTurn_ReversalPassesThroughZero(t *testing.T) {
	var steps []stepRecord
	c := newFastController(t, &recordLines{}, &steps)

	if err := c.TurnCW(3, 15); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.TurnCCW(3, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	firstCCW := -1
	for i, s := range steps {
		if s.dir == DirectionCCW {
			firstCCW = i
			break
		}
	}
	if firstCCW <= 0 {
		t.Fatalf("expected CW steps followed by CCW steps, got %v", steps)
	}
	if steps[firstCCW-1].power != 0 {
		t.Errorf("expected power 0 before reversing, got %d", steps[firstCCW-1].power)
	}
	if steps[firstCCW].power != 1 {
		t.Errorf("expected CCW ramp to start at 1, got %d", steps[firstCCW].power)
	}
	if got := c.State().Direction; got != DirectionCCW {
		t.Errorf("expected direction CCW, got %s", got)
	}
}

func TestTurn_QuickChangeSkipsZero(t *testing.T) {
	var steps []stepRecord
	lines := &recordLines{}
	c := newFastController(t, lines, &steps)

	if err := c.TurnCW(3, 15); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cwPower := c.State().LastPower
	if cwPower == 0 {
		t.Fatal("expected nonzero power after CW turn")
	}

	steps = steps[:0]
	if err := c.Turn(DirectionCCW, 5, 5, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(steps) == 0 {
		t.Fatal("expected CCW steps")
	}
	if steps[0].power != cwPower+1 {
		t.Errorf("expected CCW ramp to continue from %d, got %d", cwPower, steps[0].power)
	}

	for i, s := range steps {
		if s.power == 0 {
			t.Fatalf("step %d: quick change passed through zero", i)
		}
		if s.dir != DirectionCCW {
			t.Fatalf("step %d: expected CCW, got %s", i, s.dir)
		}
	}
	if level, _ := lines.last(17); level != Low {
		t.Error("expected CW line dropped low")
	}
}

func TestStop_RampsToZero(t *testing.T) {
	var steps []stepRecord
	lines := &recordLines{}
	c := newFastController(t, lines, &steps)

	if err := c.TurnCW(2, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := c.State().LastPower

	steps = steps[:0]
	if err := c.Stop(2 * time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(steps) != start {
		t.Errorf("expected %d down steps, got %d", start, len(steps))
	}
	state := c.State()
	if state.LastPower != 0 || state.InMotion {
		t.Errorf("expected stopped state, got %+v", state)
	}
	if level, _ := lines.last(17); level != Low {
		t.Error("expected CW line low after stop")
	}
}

func TestStop_BoundForcesLow(t *testing.T) {
	lines := &recordLines{}
	c := newFastController(t, lines, nil)

	if err := c.TurnCW(12, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State().LastPower == 0 {
		t.Fatal("expected nonzero power")
	}

	if err := c.Stop(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := c.State()
	if state.LastPower != 0 {
		t.Errorf("expected power abandoned to 0, got %d", state.LastPower)
	}
	if state.InMotion {
		t.Error("expected not in motion after forced stop")
	}
	if level, _ := lines.last(17); level != Low {
		t.Error("expected CW line forced low")
	}
}

func TestStop_IdleIsNoop(t *testing.T) {
	lines := &recordLines{}
	c := newFastController(t, lines, nil)

	before := len(lines.writes)
	if err := c.Stop(time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines.writes) != before {
		t.Errorf("expected no writes when idle, got %d", len(lines.writes)-before)
	}
}

func TestTurn_WriteErrorPropagates(t *testing.T) {
	lines := &recordLines{}
	c := newFastController(t, lines, nil)

	lines.err = errors.New("line stuck")
	if err := c.TurnCW(5, 5); err == nil {
		t.Error("expected error from failing drive line")
	}
}

func TestTurn_YieldVariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lines = &recordLines{}
	cfg.YieldPWM = true
	cfg.TickUnit = 100 * time.Microsecond
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.TurnCCW(1, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := c.State()
	if state.Direction != DirectionCCW || state.LastPower == 0 {
		t.Errorf("expected CCW ramp progress, got %+v", state)
	}
}

func TestTurnDuration(t *testing.T) {
	tests := []struct {
		name string
		ms   float64
		want time.Duration
	}{
		{"Zero", 0, 0},
		{"Fractional", 1.5, 1500 * time.Microsecond},
		{"Regular", 2000, 2 * time.Second},
		{"Negative", -10, 0},
		{"NaN", math.NaN(), 0},
		{"Huge", 1e13, time.Duration(math.MaxInt64)},
		{"Infinite", math.Inf(1), time.Duration(math.MaxInt64)},
		{"NegativeInfinite", math.Inf(-1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := turnDuration(tt.ms); got != tt.want {
				t.Errorf("turnDuration(%v) = %v, want %v", tt.ms, got, tt.want)
			}
		})
	}
}
