package domain

import "time"

type AccountTier string

const (
	AccountTierFree    AccountTier = "free"
	AccountTierPremium AccountTier = "premium"
)

type AccountAttributes struct {
	Handle string
	// SecretRef points to a credential-store entry, never at the credential itself.
	SecretRef string
	CreatedAt time.Time
	Tier      AccountTier
}

func (a AccountAttributes) AgeDays(now time.Time) int {
	if a.CreatedAt.IsZero() || now.Before(a.CreatedAt) {
		return 0
	}
	return int(now.Sub(a.CreatedAt).Hours() / 24)
}
