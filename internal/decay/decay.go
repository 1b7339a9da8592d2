// Package decay implements the per-tier exponential forgetting curve and the
// three-trace (fast/mid/slow) cascade described in spec.md §4.3, grounded on
// original_source/engram/core/decay.py, traces.py, and decay/refcounts.py.
// The Python original offloads the hot-path arithmetic to an optional Rust
// extension (engram_accel) with a pure-Python fallback; Go has no such
// split, so ApplyStrengthDecay is always the formula the fallback uses.
package decay

import (
	"math"
	"time"
)

// Config holds the tunable decay parameters. Field names mirror
// original_source/engram/configs/base.FadeMemConfig and DistillationConfig.
type Config struct {
	SMLDecayRate         float64 // r_SML, applied to short/mid-lived memories
	LMLDecayRate         float64 // r_LML, applied to promoted long-lived memories
	AccessDampeningFactor float64 // β in s' = s · exp(-r·Δdays / (1 + β·ln(1+n)))
	ForgettingThreshold  float64 // θ: below this, and mutable, and refcount-free -> forget

	PromotionAccessThreshold int     // n*
	PromotionStrengthThreshold float64 // s*

	FastDecayRate float64
	MidDecayRate  float64
	SlowDecayRate float64
	FastWeight    float64
	MidWeight     float64
	SlowWeight    float64

	CascadeFastToMid float64 // fraction of fast trace moved to mid every sleep cycle
	CascadeMidToSlow float64 // fraction of mid trace moved to slow on deep sleep only

	WeakRefMultiplierPerRef float64 // 0.15 per weak ref in the original
	MaxWeakRefsCounted      int     // min(weak, 10) in the original
}

// DefaultConfig returns the parameter set used when no host override is
// supplied, chosen to keep r_SML ≫ r_LML and r_fast ≫ r_mid ≫ r_slow as
// spec.md §4.3 requires, and reusing spec.md's own worked example
// (n*=10, s*=0.7) for the promotion thresholds.
func DefaultConfig() Config {
	return Config{
		SMLDecayRate:                0.15,
		LMLDecayRate:                0.02,
		AccessDampeningFactor:       0.5,
		ForgettingThreshold:         0.05,
		PromotionAccessThreshold:    10,
		PromotionStrengthThreshold:  0.7,
		FastDecayRate:               0.40,
		MidDecayRate:                0.08,
		SlowDecayRate:               0.01,
		FastWeight:                  0.5,
		MidWeight:                   0.3,
		SlowWeight:                  0.2,
		CascadeFastToMid:            0.2,
		CascadeMidToSlow:            0.1,
		WeakRefMultiplierPerRef:     0.15,
		MaxWeakRefsCounted:          10,
	}
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

// WeakRefDampening returns the denominator multiplier contributed by weak
// references: 1 + 0.15·min(weak, 10) in the original, which slows decay the
// more agents hold a weak interest in a memory.
func (c Config) WeakRefDampening(weakRefs int) float64 {
	n := weakRefs
	if n > c.MaxWeakRefsCounted {
		n = c.MaxWeakRefsCounted
	}
	if n < 0 {
		n = 0
	}
	return 1.0 + float64(n)*c.WeakRefMultiplierPerRef
}

// ApplyStrengthDecay computes the decayed scalar strength for a memory,
// mirroring calculate_decayed_strength. weakRefs comes from the memory's
// refcount row and only ever slows decay, never reverses it.
func (c Config) ApplyStrengthDecay(strength float64, lastAccessed time.Time, accessCount int, isLML bool, weakRefs int, now time.Time) float64 {
	if math.IsNaN(strength) {
		return 0
	}
	elapsedDays := now.Sub(lastAccessed).Hours() / 24.0
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	rate := c.SMLDecayRate
	if isLML {
		rate = c.LMLDecayRate
	}
	dampening := (1.0 + c.AccessDampeningFactor*math.Log1p(float64(accessCount))) * c.WeakRefDampening(weakRefs)
	return clamp01(strength * math.Exp(-rate*elapsedDays/dampening))
}

// ShouldForget reports whether strength has fallen below the forgetting
// threshold. The caller is responsible for also checking mutability and
// strong-ref protection (spec.md §4.3: "no strong refs").
func (c Config) ShouldForget(strength float64) bool {
	return math.IsNaN(strength) || strength < c.ForgettingThreshold
}

// ShouldPromote reports whether an SML memory has earned promotion to LML.
func (c Config) ShouldPromote(isLML bool, accessCount int, strength float64) bool {
	if isLML {
		return false
	}
	return accessCount >= c.PromotionAccessThreshold && strength >= c.PromotionStrengthThreshold
}

// Traces is the (fast, mid, slow) strength triple kept per memory.
type Traces struct {
	Fast, Mid, Slow float64
}

// InitTraces seeds a new memory's traces (all weight on fast) or a migrated
// memory's traces (split fast/mid), matching initialize_traces.
func InitTraces(strength float64, isNew bool) Traces {
	s := clamp01(strength)
	if isNew {
		return Traces{Fast: s}
	}
	return Traces{Fast: s, Mid: s * 0.5}
}

// EffectiveStrength combines the three traces into one composite value.
func (c Config) EffectiveStrength(t Traces) float64 {
	return clamp01(c.FastWeight*t.Fast + c.MidWeight*t.Mid + c.SlowWeight*t.Slow)
}

// DecayTraces independently decays each trace at its own rate, dampened by
// access count exactly as the scalar strength is (matches decay_traces).
func (c Config) DecayTraces(t Traces, lastAccessed, now time.Time, accessCount int) Traces {
	elapsedDays := now.Sub(lastAccessed).Hours() / 24.0
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	dampening := 1.0 + 0.5*math.Log1p(float64(accessCount))
	return Traces{
		Fast: clamp01(t.Fast * math.Exp(-c.FastDecayRate*elapsedDays/dampening)),
		Mid:  clamp01(t.Mid * math.Exp(-c.MidDecayRate*elapsedDays/dampening)),
		Slow: clamp01(t.Slow * math.Exp(-c.SlowDecayRate*elapsedDays/dampening)),
	}
}

// CascadeTraces transfers a fixed fraction fast→mid every cycle, and an
// additional mid→slow fraction on deep sleep only, matching cascade_traces.
func (c Config) CascadeTraces(t Traces, deepSleep bool) Traces {
	fastToMid := t.Fast * c.CascadeFastToMid
	newFast := t.Fast - fastToMid
	newMid := t.Mid + fastToMid
	newSlow := t.Slow

	if deepSleep {
		midToSlow := newMid * c.CascadeMidToSlow
		newMid -= midToSlow
		newSlow += midToSlow
	}
	return Traces{Fast: clamp01(newFast), Mid: clamp01(newMid), Slow: clamp01(newSlow)}
}

// BoostFastTrace increases only the fast trace on access, matching
// boost_fast_trace: mid/slow (already-consolidated plasticity) are
// untouched by retrieval.
func (c Config) BoostFastTrace(t Traces, boost float64) Traces {
	return Traces{Fast: clamp01(t.Fast + boost), Mid: t.Mid, Slow: t.Slow}
}
