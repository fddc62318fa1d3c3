// Package middleware provides request logging and bearer-token
// authentication for the semflagz HTTP and gRPC transports. Tokens are either
// stored API keys ("<id>.<secret>", bcrypt-hashed at rest) or a bootstrap
// admin token whose bcrypt hash comes from configuration.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyHashCost = bcrypt.DefaultCost

	// AdminPrincipal is returned for the bootstrap admin token.
	AdminPrincipal = "admin"
	apiKeyPrefix   = "api_key:"
)

var errInvalidToken = errors.New("invalid token")

// HashAPIKey returns a salted bcrypt hash for an API key.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), apiKeyHashCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// APIKeyMatchesHash compares an API key against a stored bcrypt hash.
func APIKeyMatchesHash(expectedHash, apiKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(apiKey)) == nil
}

// APIKeyHashLookup returns the stored hash for an API key ID.
type APIKeyHashLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (string, error)
}

// APIKeyValidator accepts "<id>.<secret>" tokens issued by the repository.
type APIKeyValidator struct {
	Lookup APIKeyHashLookup
}

func (v *APIKeyValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if v == nil || v.Lookup == nil {
		return "", errors.New("api key validator is nil")
	}

	keyID, rawSecret, found := strings.Cut(token, ".")
	if !found || strings.TrimSpace(keyID) == "" || rawSecret == "" {
		return "", errors.New("invalid token format")
	}

	keyHash, err := v.Lookup.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup key hash: %w", err)
	}
	if !APIKeyMatchesHash(keyHash, rawSecret) {
		return "", errInvalidToken
	}

	return apiKeyPrefix + keyID, nil
}

// AdminTokenValidator accepts the single token whose bcrypt hash is Hash.
type AdminTokenValidator struct {
	Hash string
}

func (v AdminTokenValidator) ValidateToken(_ context.Context, token string) (string, error) {
	if v.Hash == "" || !APIKeyMatchesHash(v.Hash, token) {
		return "", errInvalidToken
	}
	return AdminPrincipal, nil
}

// ChainValidators tries each validator in order and returns the first
// principal accepted. Nil validators are skipped.
func ChainValidators(validators ...TokenValidator) TokenValidator {
	return TokenValidatorFunc(func(ctx context.Context, token string) (string, error) {
		var errs []error
		for _, validator := range validators {
			if validator == nil {
				continue
			}
			principal, err := validator.ValidateToken(ctx, token)
			if err == nil {
				return principal, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return "", errors.New("no token validators configured")
		}
		return "", errors.Join(errs...)
	})
}
