package motor

import (
	"time"
)

// The hold phase deliberately spins against the monotonic clock. Sleeping
// on a general purpose scheduler overshoots sub-millisecond on/off phases by
// far more than the phase itself, which flattens the duty cycle. The cost is
// one CPU core pinned for the duration of every Turn/Stop; Config.YieldPWM
// trades that precision back for an idle core.

func (c *Controller) tickDuration() time.Duration {
	c.mu.Lock()
	acc := c.acceleration
	c.mu.Unlock()

	return time.Duration(11-acc) * c.cfg.TickUnit
}

// dutySplit returns the on and off phases of one PWM period for power
func (c *Controller) dutySplit(power int) (on, off time.Duration) {
	period := time.Second / time.Duration(c.cfg.PWMFrequency)
	if power < 0 {
		power = 0
	}
	if power > c.maxSteps {
		power = c.maxSteps
	}

	on = period * time.Duration(power) / time.Duration(c.maxSteps)
	return on, period - on
}

// hold keeps dir at power for one ramp tick
func (c *Controller) hold(dir Direction, power int) error {
	if power > 0 {
		c.inMotion.Store(true)
	}

	pin := c.pinFor(dir)
	on, off := c.dutySplit(power)
	tick := c.tickDuration()
	start := c.clock.Now()

	for c.since(start) < tick {
		if on > 0 {
			if err := c.lines.SetDriveLine(pin, High); err != nil {
				return err
			}
			c.wait(on)
		}
		if off > 0 {
			if err := c.lines.SetDriveLine(pin, Low); err != nil {
				return err
			}
			c.wait(off)
		}
	}

	return nil
}

func (c *Controller) wait(d time.Duration) {
	if c.cfg.YieldPWM {
		time.Sleep(d)
		return
	}
	spin(c.clock, d)
}

// spin busy-waits until d has elapsed on clock
func spin(clock Clock, d time.Duration) {
	start := clock.Now()
	for clock.Now().Sub(start) < d {
	}
}
