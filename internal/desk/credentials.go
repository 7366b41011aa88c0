// ABOUTME: Generated login and password for new profiles
// ABOUTME: Passwords come from crypto/rand and are stored alongside a bcrypt hash

package desk

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/olymp-desk/internal/store"
)

const (
	passwordLength   = 20
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CredentialGenerator returns a store.CredentialFunc that derives the login
// from the row id and hashes the password at cost.
func CredentialGenerator(cost int) store.CredentialFunc {
	return func(rowID int64) (store.Credentials, error) {
		password, err := randomPassword(passwordLength)
		if err != nil {
			return store.Credentials{}, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
		if err != nil {
			return store.Credentials{}, fmt.Errorf("hashing password: %w", err)
		}
		return store.Credentials{
			Login:        fmt.Sprintf("user%d", rowID),
			Password:     password,
			PasswordHash: string(hash),
		}, nil
	}
}

func randomPassword(n int) (string, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
