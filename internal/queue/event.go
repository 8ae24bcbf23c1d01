// Package queue defines the message payloads exchanged over the broker.
// Every mutating ledger operation publishes exactly one event here so the
// surrounding system can audit transitions without querying MySQL.
package queue

import "encoding/json"

// EventsQueueName is the durable queue all domain events are published to.
const EventsQueueName = "pass.events"

// Event type tags carried in the envelope.
const (
	TypePassTypeCreated      = "pass_type.created"
	TypePassTypeUpdated      = "pass_type.updated"
	TypePassPurchased        = "pass.purchased"
	TypePassGranted          = "pass.granted"
	TypePassRevoked          = "pass.revoked"
	TypeTreasuryWithdrawn    = "treasury.withdrawn"
	TypeAuthorityTransferred = "authority.transferred"
)

// Envelope wraps a typed event payload on the wire.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PassTypeEvent is published on pass type creation and update.
type PassTypeEvent struct {
	PassID       uint64 `json:"pass_id"`
	Name         string `json:"name"`
	PriceCents   uint64 `json:"price_cents"`
	DurationSecs int64  `json:"duration_secs"`
	MaxSupply    uint64 `json:"max_supply"`
	IsActive     bool   `json:"is_active"`
	Stackable    bool   `json:"stackable"`
	OccurredAt   string `json:"occurred_at"`
}

// PassExtendedEvent is published on purchase and grant. AmountCents is
// zero for grants.
type PassExtendedEvent struct {
	Principal   string `json:"principal"`
	PassID      uint64 `json:"pass_id"`
	Quantity    uint64 `json:"quantity"`
	AmountCents uint64 `json:"amount_cents"`
	ExpiresAt   int64  `json:"expires_at"`
	Stackable   bool   `json:"stackable"`
	OccurredAt  string `json:"occurred_at"`
}

// PassRevokedEvent is published when the authority cuts a holder's window.
type PassRevokedEvent struct {
	Principal      string `json:"principal"`
	PassID         uint64 `json:"pass_id"`
	PriorExpiresAt int64  `json:"prior_expires_at"`
	RevokedAt      int64  `json:"revoked_at"`
}

// TreasuryWithdrawnEvent is published after a successful withdrawal.
type TreasuryWithdrawnEvent struct {
	To           string `json:"to"`
	AmountCents  uint64 `json:"amount_cents"`
	BalanceCents uint64 `json:"balance_cents"`
	OccurredAt   string `json:"occurred_at"`
}

// AuthorityTransferredEvent is published when the authority principal
// changes hands.
type AuthorityTransferredEvent struct {
	OldPrincipal string `json:"old_principal"`
	NewPrincipal string `json:"new_principal"`
	OccurredAt   string `json:"occurred_at"`
}
