package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// APIKey is a tenant credential accepted by the registry API. The raw key
// value is never kept in memory after startup; only its SHA-256 hex hash and
// an 8-character display prefix are held.
type APIKey struct {
	Name     string `json:"name"`
	TenantID string `json:"tenant_id"`
	KeyHash  string `json:"key_hash"`
	Prefix   string `json:"prefix"`
	Enabled  bool   `json:"enabled"`
}

// NewAPIKey creates an APIKey from a configured tenant key.
func NewAPIKey(cfg TenantAPIKey) *APIKey {
	prefix := cfg.Key
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &APIKey{
		Name:     cfg.Name,
		TenantID: cfg.TenantID,
		KeyHash:  HashAPIKey(cfg.Key),
		Prefix:   prefix,
		Enabled:  cfg.Enabled,
	}
}

// HashAPIKey computes the SHA-256 hex digest of a raw API key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
