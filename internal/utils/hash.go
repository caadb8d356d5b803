package utils

import "golang.org/x/crypto/bcrypt"

// PasswordHasher returns a bcrypt hasher of the given cost. Costs outside
// bcrypt's accepted range fall back to bcrypt.DefaultCost.
func PasswordHasher(cost int) func(password string) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return func(password string) (string, error) {
		bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
		return string(bytes), err
	}
}
