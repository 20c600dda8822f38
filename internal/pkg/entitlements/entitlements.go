package entitlements

import (
	"net/url"
	"strings"

	"github.com/ManuelReschke/PayGuard/app/models"
)

// Tier is the plan level a caller's entitlement set resolves to.
type Tier string

const (
	TierFree         Tier = "free"
	TierIntermediate Tier = "intermediate"
	TierAdvanced     Tier = "advanced"
	TierBundle       Tier = "bundle"
)

// Entitlement strings stored in user_entitlements.
const (
	EntitlementJunior       = "JUNIOR"
	EntitlementIntermediate = "INTERMEDIATE"
	EntitlementSenior       = "SENIOR"
	EntitlementBundle       = "BUNDLE"
)

// Purchasable plans.
const (
	PlanIntermediate = "INTERMEDIATE"
	PlanSenior       = "SENIOR"
	PlanBundle       = "BUNDLE"
)

var tierRank = map[Tier]int{
	TierFree:         0,
	TierIntermediate: 1,
	TierAdvanced:     2,
	TierBundle:       3,
}

// precedence is ordered highest first; the first present entitlement wins.
var precedence = []struct {
	entitlement string
	tier        Tier
}{
	{EntitlementBundle, TierBundle},
	{EntitlementSenior, TierAdvanced},
	{EntitlementIntermediate, TierIntermediate},
	{EntitlementJunior, TierFree},
}

// TierFor resolves an entitlement set to exactly one tier. Unknown strings are
// ignored and an empty set is free.
func TierFor(entitlements []string) Tier {
	have := make(map[string]bool, len(entitlements))
	for _, e := range entitlements {
		have[strings.ToUpper(strings.TrimSpace(e))] = true
	}
	for _, p := range precedence {
		if have[p.entitlement] {
			return p.tier
		}
	}
	return TierFree
}

// AtLeast reports whether t is the same as or above min.
func (t Tier) AtLeast(min Tier) bool {
	return tierRank[t] >= tierRank[min]
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// PlanEntitlements returns the entitlement strings a purchased plan grants.
func PlanEntitlements(plan string) []string {
	switch strings.ToUpper(plan) {
	case PlanIntermediate:
		return []string{EntitlementJunior, EntitlementIntermediate}
	case PlanSenior:
		return []string{EntitlementJunior, EntitlementSenior}
	case PlanBundle:
		return []string{EntitlementJunior, EntitlementIntermediate, EntitlementSenior, EntitlementBundle}
	default:
		return nil
	}
}

// Capability is a gated difficulty or quiz level.
type Capability string

const (
	DifficultyEasy   Capability = "easy"
	DifficultyMedium Capability = "medium"
	DifficultyHard   Capability = "hard"

	LevelJunior       Capability = "junior"
	LevelIntermediate Capability = "intermediate"
	LevelSenior       Capability = "senior"
)

var minimumTier = map[Capability]Tier{
	DifficultyEasy:    TierFree,
	LevelJunior:       TierFree,
	DifficultyMedium:  TierIntermediate,
	LevelIntermediate: TierIntermediate,
	DifficultyHard:    TierAdvanced,
	LevelSenior:       TierAdvanced,
}

// ParseCapability normalizes a path value. ok is false for unknown values.
func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	_, ok := minimumTier[c]
	return c, ok
}

// IsDifficulty reports whether c names a content difficulty rather than a
// quiz level.
func (c Capability) IsDifficulty() bool {
	return c == DifficultyEasy || c == DifficultyMedium || c == DifficultyHard
}

// Decision is the result of an access check.
type Decision struct {
	Allowed       bool `json:"allowed"`
	CurrentPlan   Tier `json:"currentPlan"`
	RequiredPlan  Tier `json:"requiredPlan,omitempty"`
	SuggestedPlan Tier `json:"suggestedPlan,omitempty"`
}

// CheckAccess decides whether an entitlement set may use capability. Unknown
// capabilities are denied and require the highest tier.
func CheckAccess(entitlements []string, capability Capability) Decision {
	return CheckTier(TierFor(entitlements), capability)
}

func CheckTier(current Tier, capability Capability) Decision {
	required, ok := minimumTier[capability]
	if !ok {
		return Decision{CurrentPlan: current, RequiredPlan: TierBundle, SuggestedPlan: TierBundle}
	}
	if current.AtLeast(required) {
		return Decision{Allowed: true, CurrentPlan: current}
	}
	// the minimum sufficient tier is always the suggestion
	return Decision{CurrentPlan: current, RequiredPlan: required, SuggestedPlan: required}
}

// Features are the per-tier limits. -1 means unlimited.
type Features struct {
	Difficulties      []Capability `json:"difficulties"`
	QuizLevels        []Capability `json:"quizLevels"`
	QuestionsPerDay   int64        `json:"questionsPerDay"`
	QuizzesPerDay     int64        `json:"quizzesPerDay"`
	AdvancedAnalytics bool         `json:"advancedAnalytics"`
}

const Unlimited int64 = -1

var features = map[Tier]Features{
	TierFree: {
		Difficulties:    []Capability{DifficultyEasy},
		QuizLevels:      []Capability{LevelJunior},
		QuestionsPerDay: 10,
		QuizzesPerDay:   3,
	},
	TierIntermediate: {
		Difficulties:    []Capability{DifficultyEasy, DifficultyMedium},
		QuizLevels:      []Capability{LevelJunior, LevelIntermediate},
		QuestionsPerDay: 50,
		QuizzesPerDay:   10,
	},
	TierAdvanced: {
		Difficulties:      []Capability{DifficultyEasy, DifficultyMedium, DifficultyHard},
		QuizLevels:        []Capability{LevelJunior, LevelIntermediate, LevelSenior},
		QuestionsPerDay:   Unlimited,
		QuizzesPerDay:     Unlimited,
		AdvancedAnalytics: true,
	},
	TierBundle: {
		Difficulties:      []Capability{DifficultyEasy, DifficultyMedium, DifficultyHard},
		QuizLevels:        []Capability{LevelJunior, LevelIntermediate, LevelSenior},
		QuestionsPerDay:   Unlimited,
		QuizzesPerDay:     Unlimited,
		AdvancedAnalytics: true,
	},
}

// FeaturesFor returns the feature table row for t; unknown tiers get free.
func FeaturesFor(t Tier) Features {
	if f, ok := features[t]; ok {
		return f
	}
	return features[TierFree]
}

// LimitFor returns the numeric limit of a usage category for t.
func LimitFor(t Tier, category string) int64 {
	f := FeaturesFor(t)
	switch category {
	case models.UsageCategoryQuizzes:
		return f.QuizzesPerDay
	default:
		return f.QuestionsPerDay
	}
}

// UpgradeURL links to the pricing page for the suggested tier.
func UpgradeURL(publicURL string, suggested Tier) string {
	base := strings.TrimRight(publicURL, "/")
	return base + "/pricing?plan=" + url.QueryEscape(string(suggested))
}
