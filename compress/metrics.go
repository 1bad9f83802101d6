package compress

import "fmt"

// Trial episode and inter-episode lengths for the adaptive strategy.
const (
	trialLength     = 2
	nextTrialPeriod = 100
)

// Metrics tracks the A/B trial state for one class of payload stream.
//
// Some payload classes (notably quality scores) compress nearly as well
// under a much cheaper encoder configuration, and which candidate wins is
// not knowable up front. Metrics amortizes the cost of finding out: during
// a trial episode every payload is compressed with both candidates and the
// smaller output wins a point; between episodes only the cumulative winner
// runs. Roughly 1 call in 100 re-opens a trial, so the steady-state
// double-compression overhead is about 2%.
//
// One instance persists per tracked stream class for the lifetime of a
// session and is never reset mid-session. Not safe for concurrent use.
type Metrics struct {
	// Trial counts the remaining calls of the current trial episode.
	Trial int
	// NextTrial counts down the calls until the next trial episode.
	NextTrial int
	// M1 and M2 are the cumulative win counts of the two candidates.
	M1 int
	M2 int
}

// NewMetrics creates a Metrics starting inside a trial episode, so the
// first few payloads of a new stream class are always benchmarked.
func NewMetrics() *Metrics {
	return &Metrics{Trial: trialLength, NextTrial: nextTrialPeriod}
}

// Compress compresses data with the candidate selected by the metrics
// state, updating that state.
//
// During a trial both candidates run and the strictly smaller result wins,
// with a 2% hysteresis in favor of c2: c1 only takes the point when its
// output is more than 2% smaller, biasing ties toward the presumed-cheaper
// second candidate. Outside a trial only the cumulative winner runs.
//
// A nil receiver or nil c2 disables the trial machinery entirely and
// always uses c1.
func (m *Metrics) Compress(data []byte, c1, c2 Compressor) ([]byte, error) {
	if m == nil || c2 == nil {
		return c1.Compress(data)
	}

	trial := m.Trial > 0
	if !trial {
		m.NextTrial--
		trial = m.NextTrial == 0
	}

	if !trial {
		if m.M1 > m.M2 {
			return c1.Compress(data)
		}
		return c2.Compress(data)
	}

	if m.NextTrial == 0 {
		m.NextTrial = nextTrialPeriod
		m.Trial = trialLength
		m.M1, m.M2 = 0, 0
	} else {
		m.Trial--
	}

	b1, err := c1.Compress(data)
	if err != nil {
		return nil, fmt.Errorf("strategy candidate 1: %w", err)
	}
	b2, err := c2.Compress(data)
	if err != nil {
		return nil, fmt.Errorf("strategy candidate 2: %w", err)
	}

	if float64(len(b1)) < 0.98*float64(len(b2)) {
		m.M1++
		return b1, nil
	}
	m.M2++
	return b2, nil
}
