package users

import (
	"crypto/rand"
	"time"
)

// User is the local projection of a hosted-auth account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	ReferralCode string    `json:"referral_code"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountAge reports how long ago the account was first seen.
func (u *User) AccountAge(now time.Time) time.Duration {
	return now.Sub(u.CreatedAt)
}

// codeAlphabet drops 0/O and 1/I/L so codes survive being read aloud.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// NewReferralCode returns a random code of n characters from codeAlphabet.
func NewReferralCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
