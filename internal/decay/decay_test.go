package decay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestApplyStrengthDecay_MonotonicInElapsedTime covers spec.md §8 invariant 6:
// for fixed parameters and equal access_count, a longer elapsed gap never
// decays less than a shorter one.
func TestApplyStrengthDecay_MonotonicInElapsedTime(t *testing.T) {
	c := DefaultConfig()
	now := time.Now()
	last := now.Add(-10 * 24 * time.Hour)

	shortGap := c.ApplyStrengthDecay(0.8, last, 3, false, 0, now.Add(-5*24*time.Hour))
	longGap := c.ApplyStrengthDecay(0.8, last, 3, false, 0, now)
	require.GreaterOrEqual(t, shortGap, longGap)
}

// TestApplyStrengthDecay_LMLDecaysSlowerThanSML covers the r_SML > r_LML
// relationship spec.md §4.3 requires.
func TestApplyStrengthDecay_LMLDecaysSlowerThanSML(t *testing.T) {
	c := DefaultConfig()
	last := time.Now().Add(-30 * 24 * time.Hour)
	now := time.Now()

	sml := c.ApplyStrengthDecay(0.8, last, 2, false, 0, now)
	lml := c.ApplyStrengthDecay(0.8, last, 2, true, 0, now)
	require.Greater(t, lml, sml, "LML tier must retain strength better than SML over the same gap")
}

// TestApplyStrengthDecay_WeakRefsSlowDecay checks the weak-ref dampening
// multiplier (1 + 0.15*min(weak,10)) actually slows decay monotonically in
// the number of weak refs, with the count capped at 10.
func TestApplyStrengthDecay_WeakRefsSlowDecay(t *testing.T) {
	c := DefaultConfig()
	last := time.Now().Add(-20 * 24 * time.Hour)
	now := time.Now()

	noRefs := c.ApplyStrengthDecay(0.8, last, 1, false, 0, now)
	fiveRefs := c.ApplyStrengthDecay(0.8, last, 1, false, 5, now)
	twentyRefs := c.ApplyStrengthDecay(0.8, last, 1, false, 20, now)

	require.Greater(t, fiveRefs, noRefs)
	require.Equal(t, twentyRefs, c.ApplyStrengthDecay(0.8, last, 1, false, 10, now), "weak ref count is capped at MaxWeakRefsCounted")
}

// TestShouldForget_StrictThresholdBoundary covers spec.md §8 boundary
// behavior: decay at the θ-boundary forgets iff strength < θ (strict).
func TestShouldForget_StrictThresholdBoundary(t *testing.T) {
	c := DefaultConfig()
	require.False(t, c.ShouldForget(c.ForgettingThreshold), "strength exactly at threshold must not be forgotten")
	require.True(t, c.ShouldForget(c.ForgettingThreshold-0.0001))
}

// TestShouldPromote_OnlySMLWithBothThresholdsMet covers spec.md §8 invariant
// 7: promotion only ever moves SML to LML, requiring both n* and s*.
func TestShouldPromote_OnlySMLWithBothThresholdsMet(t *testing.T) {
	c := DefaultConfig()
	require.True(t, c.ShouldPromote(false, c.PromotionAccessThreshold, c.PromotionStrengthThreshold))
	require.False(t, c.ShouldPromote(false, c.PromotionAccessThreshold-1, c.PromotionStrengthThreshold))
	require.False(t, c.ShouldPromote(false, c.PromotionAccessThreshold, c.PromotionStrengthThreshold-0.01))
	require.False(t, c.ShouldPromote(true, c.PromotionAccessThreshold, c.PromotionStrengthThreshold), "an already-LML memory is never promoted again")
}

// TestEffectiveStrength_IsConvexCombination covers spec.md §8 invariant 1:
// effective_strength is a convex combination of the three traces.
func TestEffectiveStrength_IsConvexCombination(t *testing.T) {
	c := DefaultConfig()
	require.InDelta(t, 1.0, c.FastWeight+c.MidWeight+c.SlowWeight, 1e-9)

	traces := Traces{Fast: 1, Mid: 1, Slow: 1}
	require.InDelta(t, 1.0, c.EffectiveStrength(traces), 1e-9)

	traces = Traces{Fast: 0, Mid: 0, Slow: 0}
	require.Equal(t, 0.0, c.EffectiveStrength(traces))
}

// TestCascadeTraces_FastToMidAlwaysMidToSlowOnlyOnDeepSleep covers spec.md
// §4.3's cascade rule: fast->mid moves every cycle; mid->slow only on deep
// sleep.
func TestCascadeTraces_FastToMidAlwaysMidToSlowOnlyOnDeepSleep(t *testing.T) {
	c := DefaultConfig()
	traces := Traces{Fast: 0.8, Mid: 0.4, Slow: 0.1}

	shallow := c.CascadeTraces(traces, false)
	require.Less(t, shallow.Fast, traces.Fast)
	require.Greater(t, shallow.Mid, traces.Mid)
	require.Equal(t, traces.Slow, shallow.Slow, "slow trace is untouched without deep sleep")

	deep := c.CascadeTraces(traces, true)
	require.Greater(t, deep.Slow, traces.Slow, "deep sleep must also drain some mid into slow")
}

// TestBoostFastTrace_OnlyTouchesFast matches spec.md §4.3: "Access boosts
// only the fast trace."
func TestBoostFastTrace_OnlyTouchesFast(t *testing.T) {
	c := DefaultConfig()
	traces := Traces{Fast: 0.5, Mid: 0.3, Slow: 0.2}
	boosted := c.BoostFastTrace(traces, 0.2)
	require.InDelta(t, 0.7, boosted.Fast, 1e-9)
	require.Equal(t, traces.Mid, boosted.Mid)
	require.Equal(t, traces.Slow, boosted.Slow)
}
