package entitlement

import "strings"

// Tier is a subscription plan level. Higher tiers include everything the
// lower ones grant.
type Tier string

const (
	TierFree       Tier = "free"
	TierPersonal   Tier = "personal"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

var tierLevels = map[Tier]int{
	TierFree:       0,
	TierPersonal:   1,
	TierPro:        2,
	TierEnterprise: 3,
}

// NormalizeTier maps free-form input onto a known tier. Unknown or empty
// input normalizes to the free tier.
func NormalizeTier(raw string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tierLevels[t]; !ok {
		return TierFree
	}
	return t
}

// AtLeast reports whether t grants everything required grants.
func (t Tier) AtLeast(required Tier) bool {
	return tierLevels[t] >= tierLevels[required]
}

func (t Tier) Valid() bool {
	_, ok := tierLevels[t]
	return ok
}
