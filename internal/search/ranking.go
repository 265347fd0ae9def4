package search

import (
	"math"
	"time"

	"github.com/Aman-CERP/pagesearch/internal/config"
)

// Ranker applies the recency and frequency multipliers to fused scores.
type Ranker struct {
	// HalfLife is the age at which Decay is halfway between 1 and Floor.
	// Zero disables decay.
	HalfLife time.Duration

	// Floor is the multiplier very old pages approach.
	Floor float64

	// FrequencyWeight scales the log visit-count boost. Zero disables it.
	FrequencyWeight float64
}

// NewRanker builds a Ranker from search settings.
func NewRanker(cfg config.SearchConfig) Ranker {
	return Ranker{
		HalfLife:        cfg.HalfLifeDuration(),
		Floor:           min(max(cfg.DecayFloor, 0), 1),
		FrequencyWeight: max(cfg.FrequencyWeight, 0),
	}
}

// Decay returns floor + (1-floor) * 0.5^(age/halfLife). It is
// non-increasing in age; future visits count as age zero.
func (r Ranker) Decay(age time.Duration) float64 {
	if r.HalfLife <= 0 {
		return 1
	}
	age = max(age, 0)
	return r.Floor + (1-r.Floor)*math.Exp2(-float64(age)/float64(r.HalfLife))
}

// Boost returns 1 + weight * ln(1 + visits).
func (r Ranker) Boost(visits int) float64 {
	return 1 + r.FrequencyWeight*math.Log1p(float64(max(visits, 0)))
}

// Apply returns the final score with its two multipliers.
func (r Ranker) Apply(fused float64, lastVisited, now time.Time, visits int) (score, decay, boost float64) {
	decay = r.Decay(now.Sub(lastVisited))
	boost = r.Boost(visits)
	return fused * decay * boost, decay, boost
}
