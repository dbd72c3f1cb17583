package stats

import "math"

// JeffreysAlpha and JeffreysBeta are the parameters of the Jeffreys
// prior Beta(0.5, 0.5) used for behavior-frequency estimation.
const (
	JeffreysAlpha = 0.5
	JeffreysBeta  = 0.5
)

// BetaPosterior is the analytic posterior of a Beta-Binomial model.
type BetaPosterior struct {
	Alpha float64
	Beta  float64
}

// NewJeffreysPosterior builds the posterior Beta(0.5+successes,
// 0.5+failures) after observing successes out of trials.
func NewJeffreysPosterior(successes, trials int) BetaPosterior {
	if trials < 0 {
		trials = 0
	}
	if successes < 0 {
		successes = 0
	}
	if successes > trials {
		successes = trials
	}
	return BetaPosterior{
		Alpha: JeffreysAlpha + float64(successes),
		Beta:  JeffreysBeta + float64(trials-successes),
	}
}

// Mean returns the posterior mean alpha/(alpha+beta).
func (p BetaPosterior) Mean() float64 {
	total := p.Alpha + p.Beta
	if total == 0 {
		return 0.5
	}
	return p.Alpha / total
}

// Variance returns the analytic posterior variance.
func (p BetaPosterior) Variance() float64 {
	total := p.Alpha + p.Beta
	if total == 0 {
		return 0
	}
	return (p.Alpha * p.Beta) / (total * total * (total + 1))
}

// CredibleInterval returns the normal-approximation 95% credible
// interval for the posterior rate, clamped to [0, 1].
func (p BetaPosterior) CredibleInterval() (lower, upper float64) {
	mean := p.Mean()
	sd := math.Sqrt(p.Variance())
	return Clamp01(mean - 1.96*sd), Clamp01(mean + 1.96*sd)
}
