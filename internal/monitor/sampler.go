package monitor

import (
	"context"
	"time"
)

// Sampler holds the previous snapshot and turns each new one into a
// utilization reading.
//
// A Sampler is not safe for concurrent use. Ticks must be serialized by the
// owner; Monitor does this.
type Sampler struct {
	source    CounterSource
	perCore   bool
	prev      *CPUSnapshot
	prevCores []CPUSnapshot
	now       func() time.Time
}

// NewSampler creates a Sampler with no previous snapshot.
// When perCore is false, readings carry only the aggregate value.
func NewSampler(source CounterSource, perCore bool) *Sampler {
	return &Sampler{
		source:  source,
		perCore: perCore,
		now:     time.Now,
	}
}

// Source returns the counter source the sampler reads.
func (s *Sampler) Source() CounterSource {
	return s.source
}

// Tick reads a new snapshot, computes utilization against the stored one and
// stores the new snapshot. The first successful tick has nothing to compare
// against and reports Utilization{Available: false}.
//
// On a read error the stored snapshot is left unchanged, so the next
// successful tick covers the whole interval since the last good read.
func (s *Sampler) Tick(ctx context.Context) (Reading, error) {
	total, cores, err := s.source.ReadTimes(ctx)
	if err != nil {
		return Reading{}, err
	}

	reading := Reading{Timestamp: s.now()}

	curr := total.Snapshot()
	if s.prev != nil {
		reading.Total = Utilization{
			Percent:   ComputeUtilization(*s.prev, curr),
			Available: true,
		}
	}
	s.prev = &curr

	if s.perCore && len(cores) > 0 {
		reading.Cores = make([]Utilization, len(cores))
		currCores := make([]CPUSnapshot, len(cores))
		for i, c := range cores {
			currCores[i] = c.Snapshot()
			// Cores that appeared since the last tick have no baseline yet.
			if i < len(s.prevCores) {
				reading.Cores[i] = Utilization{
					Percent:   ComputeUtilization(s.prevCores[i], currCores[i]),
					Available: true,
				}
			}
		}
		s.prevCores = currCores
	}

	return reading, nil
}

// Reset discards the stored snapshots. The next tick behaves like the first.
func (s *Sampler) Reset() {
	s.prev = nil
	s.prevCores = nil
}
