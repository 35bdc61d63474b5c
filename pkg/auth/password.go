package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost           = 14 // OWASP 2026 recommendation
	RandomPasswordLength = 32 // 256 bits for proxy-provisioned accounts
)

// Known-compromised passwords flagged on successful login. The check is
// advisory: the login still succeeds, the user is warned.
var compromisedPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty":       true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"123456":       true,
	"admin":        true,
	"letmein":      true,
	"welcome":      true,
	"monkey":       true,
	"dragon":       true,
	"master":       true,
	"123123":       true,
	"passw0rd":     true,
	"shadow":       true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateRandomPassword returns an unguessable password for accounts
// provisioned without one (proxy auto-creation). Local password login stays
// impossible until the hash is explicitly replaced.
func GenerateRandomPassword() (string, error) {
	bytes := make([]byte, RandomPasswordLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// IsCompromised reports whether the password appears in the known-leaked set
func IsCompromised(password string) bool {
	return compromisedPasswords[strings.ToLower(password)]
}
