package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		name string
		ents []string
		want Tier
	}{
		{"empty", nil, TierFree},
		{"junior only", []string{"JUNIOR"}, TierFree},
		{"intermediate", []string{"JUNIOR", "INTERMEDIATE"}, TierIntermediate},
		{"senior", []string{"JUNIOR", "SENIOR"}, TierAdvanced},
		{"bundle wins", []string{"INTERMEDIATE", "BUNDLE"}, TierBundle},
		{"senior beats intermediate", []string{"INTERMEDIATE", "SENIOR"}, TierAdvanced},
		{"case insensitive", []string{"bundle"}, TierBundle},
		{"unknown ignored", []string{"PLATINUM"}, TierFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TierFor(tt.ents))
		})
	}
}

func TestCheckAccess(t *testing.T) {
	tests := []struct {
		ents      []string
		cap       Capability
		allowed   bool
		suggested Tier
	}{
		{nil, DifficultyEasy, true, ""},
		{nil, DifficultyMedium, false, TierIntermediate},
		{nil, DifficultyHard, false, TierAdvanced},
		{nil, LevelSenior, false, TierAdvanced},
		{[]string{"INTERMEDIATE"}, LevelIntermediate, true, ""},
		{[]string{"INTERMEDIATE"}, DifficultyHard, false, TierAdvanced},
		{[]string{"SENIOR"}, DifficultyHard, true, ""},
		{[]string{"BUNDLE"}, LevelSenior, true, ""},
	}
	for _, tt := range tests {
		d := CheckAccess(tt.ents, tt.cap)
		assert.Equal(t, tt.allowed, d.Allowed, "%v %s", tt.ents, tt.cap)
		assert.Equal(t, tt.suggested, d.SuggestedPlan, "%v %s", tt.ents, tt.cap)
		if !tt.allowed {
			assert.Equal(t, tt.suggested, d.RequiredPlan)
		}
	}
}

func TestCheckAccessUnknownCapability(t *testing.T) {
	d := CheckAccess([]string{"BUNDLE"}, "impossible")
	assert.False(t, d.Allowed)
}

func TestMonotonicity(t *testing.T) {
	caps := []Capability{DifficultyEasy, DifficultyMedium, DifficultyHard, LevelJunior, LevelIntermediate, LevelSenior}
	order := []Tier{TierFree, TierIntermediate, TierAdvanced, TierBundle}
	for i := 1; i < len(order); i++ {
		lower, higher := order[i-1], order[i]
		for _, c := range caps {
			if CheckTier(lower, c).Allowed {
				assert.True(t, CheckTier(higher, c).Allowed, "%s allows %s but %s does not", lower, c, higher)
			}
		}
	}
	for _, c := range caps {
		assert.True(t, CheckTier(TierAdvanced, c).Allowed)
		assert.True(t, CheckTier(TierBundle, c).Allowed)
	}
}

func TestPlanEntitlements(t *testing.T) {
	assert.Equal(t, []string{"JUNIOR", "INTERMEDIATE"}, PlanEntitlements("INTERMEDIATE"))
	assert.Equal(t, []string{"JUNIOR", "SENIOR"}, PlanEntitlements("senior"))
	assert.Len(t, PlanEntitlements("BUNDLE"), 4)
	assert.Nil(t, PlanEntitlements("FREE"))

	assert.Equal(t, TierIntermediate, TierFor(PlanEntitlements(PlanIntermediate)))
	assert.Equal(t, TierAdvanced, TierFor(PlanEntitlements(PlanSenior)))
	assert.Equal(t, TierBundle, TierFor(PlanEntitlements(PlanBundle)))
}

func TestFeatures(t *testing.T) {
	assert.Equal(t, int64(10), LimitFor(TierFree, "questions"))
	assert.Equal(t, int64(3), LimitFor(TierFree, "quizzes"))
	assert.Equal(t, int64(50), LimitFor(TierIntermediate, "questions"))
	assert.Equal(t, int64(10), LimitFor(TierIntermediate, "quizzes"))
	assert.Equal(t, Unlimited, LimitFor(TierAdvanced, "questions"))
	assert.Equal(t, Unlimited, LimitFor(TierBundle, "quizzes"))
	assert.Equal(t, FeaturesFor(TierFree), FeaturesFor("bogus"))
}

func TestParseCapability(t *testing.T) {
	c, ok := ParseCapability(" Hard ")
	assert.True(t, ok)
	assert.Equal(t, DifficultyHard, c)
	assert.True(t, c.IsDifficulty())

	c, ok = ParseCapability("senior")
	assert.True(t, ok)
	assert.False(t, c.IsDifficulty())

	_, ok = ParseCapability("expert")
	assert.False(t, ok)
}

func TestUpgradeURL(t *testing.T) {
	assert.Equal(t, "https://example.com/pricing?plan=advanced", UpgradeURL("https://example.com/", TierAdvanced))
}
