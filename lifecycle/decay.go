package lifecycle

import (
	"math"
	"time"

	"github.com/thymos-ai/thymos/internal/tlog"
)

// Strength computes the §4.3.2 decay value for a memory, given its access
// metadata, the scope it belongs to, the lifecycle configuration's decay
// constants, and the current time. Malformed or zero last-access
// timestamps degrade to strength 1.0 with a logged warning rather than
// failing the caller, per §4.3.5.
func Strength(meta MemoryMeta, scope ScopeConfig, cfg Config, now time.Time) float64 {
	if meta.LastAccessed.IsZero() {
		tlog.WarningLog.Printf("lifecycle: memory in scope %q has no last-access timestamp, treating as fresh", meta.Scope)
		return 1.0
	}
	if meta.LastAccessed.After(now) {
		tlog.WarningLog.Printf("lifecycle: memory last-access %v is after now %v, treating as fresh", meta.LastAccessed, now)
		return 1.0
	}

	hours := now.Sub(meta.LastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}

	emotionalWeight := meta.EmotionalWeight
	if emotionalWeight == 0 {
		emotionalWeight = 1.0
	}
	importanceScore := meta.ImportanceScore
	if importanceScore == 0 {
		importanceScore = 1.0
	}

	stability := cfg.BaseStability +
		float64(meta.AccessCount)*cfg.AccessCountWeight*
			emotionalWeight*cfg.EmotionalWeightMultiplier*
			importanceScore*scope.ImportanceMultiplier

	denom := stability
	if scope.DecayHours > denom {
		denom = scope.DecayHours
	}
	if denom <= 0 {
		denom = cfg.BaseStability
	}

	strength := math.Exp(-hours / denom)
	return clamp01(strength)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
