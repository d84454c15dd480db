package calib

// PID is a proportional-integral corrector. The derivative term is not used.
// Create a new one for every stage at every frequency so integral state never
// leaks between unrelated control problems.
type PID struct {
	P      float64
	I      float64
	Target float64

	sum float64
}

// Gains are the tunable PID coefficients.
type Gains struct {
	P float64 `yaml:"p"`
	I float64 `yaml:"i"`
}

// DefaultGains matches the tuning used on the production bench.
var DefaultGains = Gains{P: 0.95, I: 0.01}

// NewPID returns a corrector with zero target and empty integral.
func NewPID(g Gains) *PID {
	return &PID{P: g.P, I: g.I}
}

// Correct feeds one error sample and returns the correction.
func (c *PID) Correct(measured float64) float64 {
	e := measured - c.Target
	c.sum += e
	return c.P*e + c.I*c.sum
}

// Integral returns the accumulated error.
func (c *PID) Integral() float64 {
	return c.sum
}
