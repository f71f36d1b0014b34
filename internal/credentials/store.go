// Package credentials supplies provider API keys to terminal sessions.
//
// Keys are read at spawn time only. Nothing in this package logs, caches or
// persists a key value.
package credentials

import (
	"context"
	"errors"
	"os"
	"strings"
)

// ErrNoCredential is returned when a store has no key for a provider
var ErrNoCredential = errors.New("no credential for provider")

// Store returns the API key for a provider
type Store interface {
	APIKey(ctx context.Context, providerID string) (string, error)
}

// EnvStore reads keys from SQUADRON_<PROVIDER>_API_KEY variables
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore creates a store over the process environment
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

// VarName returns the environment variable EnvStore reads for providerID
func VarName(providerID string) string {
	name := strings.ToUpper(providerID)
	name = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	return "SQUADRON_" + name + "_API_KEY"
}

func (s *EnvStore) APIKey(_ context.Context, providerID string) (string, error) {
	if v, ok := s.lookup(VarName(providerID)); ok && v != "" {
		return v, nil
	}
	return "", ErrNoCredential
}

// MapStore is a fixed in-memory store
type MapStore map[string]string

func (s MapStore) APIKey(_ context.Context, providerID string) (string, error) {
	if v, ok := s[providerID]; ok && v != "" {
		return v, nil
	}
	return "", ErrNoCredential
}

// Chain asks each store in order and returns the first key found. Errors
// other than ErrNoCredential stop the chain.
type Chain []Store

func (c Chain) APIKey(ctx context.Context, providerID string) (string, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		key, err := s.APIKey(ctx, providerID)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrNoCredential) {
			return "", err
		}
	}
	return "", ErrNoCredential
}
