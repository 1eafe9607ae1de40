package memory

import (
	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

// QualityEngine computes quality scores and promotion eligibility. The
// score is derived, never stored authority: recomputing from a record's
// counters always yields the current value.
type QualityEngine struct {
	usageWeight        float64
	validationWeight   float64
	promotionThreshold float64
	promotionMinUsage  int64
}

// NewQualityEngine builds an engine from quality configuration.
func NewQualityEngine(cfg core.QualityConfig) *QualityEngine {
	return &QualityEngine{
		usageWeight:        cfg.UsageWeight,
		validationWeight:   cfg.ValidationWeight,
		promotionThreshold: cfg.PromotionThreshold,
		promotionMinUsage:  cfg.PromotionMinUsage,
	}
}

// Score computes the quality of a record from its confidence and counters,
// capped at 1.0. Negative validations are tracked on the record but do not
// reduce the score.
func (e *QualityEngine) Score(m *core.Memory) float64 {
	score := m.Confidence +
		e.usageWeight*float64(m.UsageCount) +
		e.validationWeight*float64(m.ValidationCount)
	if score > 1.0 {
		return 1.0
	}
	return score
}

// ShouldPromote reports whether a record is eligible for promotion to
// global scope. Already-promoted and already-global records are never
// eligible; promotion is one-way.
func (e *QualityEngine) ShouldPromote(m *core.Memory) bool {
	if m.Promoted || m.IsGlobal() {
		return false
	}
	return e.Score(m) >= e.promotionThreshold && m.UsageCount >= e.promotionMinUsage
}
