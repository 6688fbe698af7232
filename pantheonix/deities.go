package pantheonix

// DeityDomain identifies the sphere of influence a deity governs. Every religion is
// devoted to exactly one domain, and civilizations hold at most one member religion
// per domain.
type DeityDomain string

const (
	DeityDomainSun     DeityDomain = "sun"
	DeityDomainMoon    DeityDomain = "moon"
	DeityDomainWar     DeityDomain = "war"
	DeityDomainHarvest DeityDomain = "harvest"
	DeityDomainSea     DeityDomain = "sea"
	DeityDomainStorm   DeityDomain = "storm"
	DeityDomainDeath   DeityDomain = "death"
	DeityDomainCraft   DeityDomain = "craft"

	// DeityDomainUniversal is only valid on blessing definitions, never on a religion.
	DeityDomainUniversal DeityDomain = "universal"
)

// DeityDomains returns the fixed set of domains a religion may be devoted to.
func DeityDomains() []DeityDomain {
	return []DeityDomain{
		DeityDomainSun,
		DeityDomainMoon,
		DeityDomainWar,
		DeityDomainHarvest,
		DeityDomainSea,
		DeityDomainStorm,
		DeityDomainDeath,
		DeityDomainCraft,
	}
}

// IsValidDeityDomain reports whether the domain is one a religion may be devoted to.
func IsValidDeityDomain(domain DeityDomain) bool {
	for _, d := range DeityDomains() {
		if d == domain {
			return true
		}
	}
	return false
}
