package domain

// RegistrationTier is the pricing/recurrence category assigned to a subscriber
type RegistrationTier string

const (
	TierNormal  RegistrationTier = "normal"
	TierPremier RegistrationTier = "premier"
	TierSilver  RegistrationTier = "silver"
	TierDiamond RegistrationTier = "diamond"
)

// TierPrice is one row of the static pricing table
type TierPrice struct {
	Tier      RegistrationTier `json:"id"`
	Amount    int64            `json:"amount"` // minor currency units
	Currency  string           `json:"currency"`
	Recurring bool             `json:"is_recurring"`
}

// DefaultCurrency is used everywhere an amount is created in this service
const DefaultCurrency = "UGX"

// tierPrices is immutable reference data, not a stored entity
var tierPrices = map[RegistrationTier]TierPrice{
	TierNormal:  {Tier: TierNormal, Amount: 30000, Currency: DefaultCurrency, Recurring: false},
	TierPremier: {Tier: TierPremier, Amount: 70000, Currency: DefaultCurrency, Recurring: true},
	TierSilver:  {Tier: TierSilver, Amount: 120000, Currency: DefaultCurrency, Recurring: true},
	TierDiamond: {Tier: TierDiamond, Amount: 250000, Currency: DefaultCurrency, Recurring: true},
}

// PriceOf looks up the fee and recurrence flag for a tier. Unknown tiers are
// a caller validation error, not a runtime fault.
func PriceOf(tier RegistrationTier) (TierPrice, bool) {
	p, ok := tierPrices[tier]
	return p, ok
}

// AllTierPrices returns the pricing table in a stable order
func AllTierPrices() []TierPrice {
	return []TierPrice{
		tierPrices[TierNormal],
		tierPrices[TierPremier],
		tierPrices[TierSilver],
		tierPrices[TierDiamond],
	}
}
