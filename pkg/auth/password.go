package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// phantomHash is a valid bcrypt digest compared against when an account
// does not exist, so login attempts cost the same either way.
const phantomHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashPassword hashes a password using bcrypt
func HashPassword(password string, cost ...int) (string, error) {
	bcryptCost := bcrypt.DefaultCost
	if len(cost) > 0 {
		bcryptCost = cost[0]
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(bytes), err
}

// CheckPassword compares a password with its hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// BurnPasswordCheck performs a throwaway comparison against a fixed
// digest. Called on unknown-account logins to keep response timing
// indistinguishable from a wrong-password attempt.
func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(phantomHash), []byte(password))
}
