package transport

import (
	"math/rand/v2"
	"sync/atomic"
)

// DefaultLossRate is the drop probability used by a lossy channel when no
// Sampler is configured.
const DefaultLossRate = 0.05

// Sampler decides, once per Send on a lossy channel, whether the message is
// silently dropped. Implementations must be safe for concurrent use; one
// sampler is usually shared by every channel a service accepts.
type Sampler interface {
	Drop() bool
}

type randomLoss struct {
	rate float64
}

// RandomLoss drops each message independently with probability rate.
func RandomLoss(rate float64) Sampler {
	return randomLoss{rate: rate}
}

func (r randomLoss) Drop() bool {
	return rand.Float64() < r.rate
}

// EveryNthSampler drops the n-th, 2n-th, 3n-th... message it is asked about.
type EveryNthSampler struct {
	n       uint64
	seen    atomic.Uint64
	dropped atomic.Uint64
}

// EveryNth returns a deterministic sampler. n <= 0 never drops.
func EveryNth(n int) *EveryNthSampler {
	if n < 0 {
		n = 0
	}
	return &EveryNthSampler{n: uint64(n)}
}

func (s *EveryNthSampler) Drop() bool {
	seen := s.seen.Add(1)
	if s.n == 0 || seen%s.n != 0 {
		return false
	}
	s.dropped.Add(1)
	return true
}

// Dropped reports how many messages the sampler has dropped so far.
func (s *EveryNthSampler) Dropped() int {
	return int(s.dropped.Load())
}
