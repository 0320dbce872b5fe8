package auth

import "errors"

// Service errors. Each maps to a specific response at the route boundary;
// none of these terminates the process.
var (
	// ErrInvalidInvite covers unknown, expired and email-mismatched invites.
	ErrInvalidInvite = errors.New("invite invalid or expired")

	// ErrInviteAlreadyUsed covers consumed invites and invites whose email
	// already has an account, including concurrent-consumption races.
	ErrInviteAlreadyUsed = errors.New("invite already used")

	// ErrInvalidCredentials is returned identically for unknown, inactive
	// and wrong-password logins so the response cannot enumerate users.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
