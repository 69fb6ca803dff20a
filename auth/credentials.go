package auth

import (
	"strings"

	"ai-rivu-backend/config"
	"ai-rivu-backend/utils"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash keeps the cost of a miss equal to the cost of a hit
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("airivu-unknown-user"), bcrypt.DefaultCost)

// Verifier checks login credentials against the configured users
type Verifier struct {
	hashes map[string][]byte
}

// NewVerifier indexes users by normalized email
func NewVerifier(users []config.UserCredential) *Verifier {
	v := &Verifier{hashes: make(map[string][]byte, len(users))}
	for _, u := range users {
		email := utils.NormalizeIdentity(u.Email)
		if email == "" || u.PasswordHash == "" {
			continue
		}
		v.hashes[email] = []byte(u.PasswordHash)
	}
	return v
}

// Users returns the number of configured users
func (v *Verifier) Users() int {
	return len(v.hashes)
}

// Verify returns the normalized identity on success and
// utils.ErrInvalidCredentials otherwise.
func (v *Verifier) Verify(email, password string) (string, error) {
	identity := utils.NormalizeIdentity(email)
	hash, ok := v.hashes[identity]
	if !ok {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", utils.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", utils.ErrInvalidCredentials
	}
	return identity, nil
}

// HashPassword produces a hash suitable for auth.users[].password_hash
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", utils.ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
