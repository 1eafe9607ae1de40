package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rysweet/MicrosoftHackathon2025-AgenticCoding-sub015/core"
)

func defaultQualityEngine() *QualityEngine {
	return NewQualityEngine(core.QualityConfig{
		UsageWeight:        0.05,
		ValidationWeight:   0.06,
		PromotionThreshold: 0.75,
		PromotionMinUsage:  3,
	})
}

func TestQualityScore(t *testing.T) {
	e := defaultQualityEngine()

	tests := []struct {
		name        string
		confidence  float64
		usage       int64
		validations int64
		want        float64
	}{
		{"fresh record scores its confidence", 0.5, 0, 0, 0.5},
		{"usage raises quality", 0.5, 2, 0, 0.6},
		{"validations raise quality", 0.5, 0, 2, 0.62},
		{"combined counters", 0.35, 5, 3, 0.78},
		{"capped at one", 0.9, 10, 10, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &core.Memory{
				Confidence:      tt.confidence,
				UsageCount:      tt.usage,
				ValidationCount: tt.validations,
			}
			assert.InDelta(t, tt.want, e.Score(m), 1e-9)
		})
	}
}

func TestQualityScoreIgnoresNegativeValidations(t *testing.T) {
	e := defaultQualityEngine()
	m := &core.Memory{Confidence: 0.5, ValidationCount: 2, NegativeValidationCount: 7}
	assert.InDelta(t, 0.62, e.Score(m), 1e-9)
}

func TestShouldPromote(t *testing.T) {
	e := defaultQualityEngine()

	eligible := &core.Memory{Confidence: 0.35, UsageCount: 5, ValidationCount: 3, ProjectID: "proj-1"}
	assert.True(t, e.ShouldPromote(eligible))

	lowQuality := &core.Memory{Confidence: 0.3, UsageCount: 5, ProjectID: "proj-1"}
	assert.False(t, e.ShouldPromote(lowQuality))

	lowUsage := &core.Memory{Confidence: 0.9, UsageCount: 2, ValidationCount: 3, ProjectID: "proj-1"}
	assert.False(t, e.ShouldPromote(lowUsage), "quality alone is not enough")

	alreadyPromoted := &core.Memory{Confidence: 0.9, UsageCount: 5, ValidationCount: 3, Promoted: true}
	assert.False(t, e.ShouldPromote(alreadyPromoted))

	alreadyGlobal := &core.Memory{Confidence: 0.9, UsageCount: 5, ValidationCount: 3, ProjectID: ""}
	assert.False(t, e.ShouldPromote(alreadyGlobal), "global records have nowhere to go")
}
