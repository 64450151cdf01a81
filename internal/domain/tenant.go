// SPDX-License-Identifier: MIT

// Package domain holds the plain data model of the waiting room: tenants,
// queues, user sessions and the lifecycle events they emit. Entities carry no
// behaviour beyond validation and ordering; persistence and release mechanics
// live in their own packages.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tenant is the administrative isolation boundary. A tenant owns queues and
// webhook subscriptions; it is soft-deactivated, never hard-deleted while it
// owns queues.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	APIKey    string    `json:"apiKey"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTenant builds an active tenant with a fresh API key.
func NewTenant(name, dnsDomain string, now time.Time) (*Tenant, error) {
	name = strings.TrimSpace(name)
	dnsDomain = strings.ToLower(strings.TrimSpace(dnsDomain))
	if name == "" {
		return nil, Validation("name", "must not be empty")
	}
	if dnsDomain == "" {
		return nil, Validation("domain", "must not be empty")
	}
	key, err := newAPIKey()
	if err != nil {
		return nil, err
	}
	return &Tenant{
		ID:        uuid.NewString(),
		Name:      name,
		Domain:    dnsDomain,
		APIKey:    key,
		IsActive:  true,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// newAPIKey returns a 32-byte hex key with a stable prefix so keys are
// recognisable in logs and support tickets.
func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "wg_" + hex.EncodeToString(buf), nil
}
