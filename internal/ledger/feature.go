package ledger

// Pricing selects which balance a feature draws from.
type Pricing int

const (
	// PricingDailyQuota is free for pro and admin accounts and counts against
	// the daily message allowance for free accounts.
	PricingDailyQuota Pricing = iota
	// PricingCredits is pro only and debits Cost credits per call.
	PricingCredits
)

func (p Pricing) String() string {
	switch p {
	case PricingDailyQuota:
		return "daily_quota"
	case PricingCredits:
		return "credits"
	default:
		return "unknown"
	}
}

type Feature struct {
	Name    string
	Pricing Pricing
	Cost    int
}

// Grant records what a successful charge consumed. Remaining is the free
// messages left today (Unlimited when not metered); Credits is the balance
// after a debit.
type Grant struct {
	Feature   string
	Pricing   Pricing
	Remaining int
	Credits   int
}
