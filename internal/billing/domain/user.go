package domain

// Role is the access tier a subscription grants.
type Role string

const (
	RoleFree    Role = "free"
	RolePremium Role = "premium"
)
