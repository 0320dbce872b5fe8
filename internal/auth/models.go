package auth

import "time"

// User is an account created by consuming an invite.
type User struct {
	ID          int64
	Email       string
	Role        string
	IsActive    bool
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// Invite authorizes creation of exactly one account bound to an email.
// Token holds only the stored digest; the raw token is returned once from
// CreateInvite and never kept.
type Invite struct {
	ID        int64
	TokenHash string
	Email     string
	Role      string
	CreatedBy *int64
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}
