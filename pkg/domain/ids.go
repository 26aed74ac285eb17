// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "wxpass/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a CredentialID where a TxID is expected.
type (
	CredentialID uuid.UUID
	TxID         uuid.UUID
)

// Address is an opaque ledger account identity. Addresses are issued by the
// ledger, never by this system; we only validate their shape at trust boundaries.
type Address string

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseCredentialID(s string) (CredentialID, error) {
	id, err := parseUUID(s, "credential ID")
	return CredentialID(id), err
}

func ParseTxID(s string) (TxID, error) {
	id, err := parseUUID(s, "transaction ID")
	return TxID(id), err
}

// addressAlphabet matches the base32-style account addresses the ledger issues.
const addressAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// ParseAddress validates the shape of a ledger address. Addresses are fixed
// width and drawn from the ledger's base32 alphabet; anything else is rejected
// before it can reach a ledger query.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address cannot be empty")
	}
	if len(s) != AddressLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid address length")
	}
	for _, r := range s {
		if !strings.ContainsRune(addressAlphabet, r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid address format")
		}
	}
	return Address(s), nil
}

// AddressLength is the fixed width of a ledger account address.
const AddressLength = 58

// String methods - for logging and debugging.

func (id CredentialID) String() string { return uuid.UUID(id).String() }
func (id TxID) String() string         { return uuid.UUID(id).String() }
func (a Address) String() string       { return string(a) }

// Short returns a truncated address for log lines.
func (a Address) Short() string {
	if len(a) <= 8 {
		return string(a)
	}
	return string(a[:8]) + "..."
}

// Text marshaling - IDs render as canonical UUID strings in JSON payloads.

func (id CredentialID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id TxID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }

func (id *CredentialID) UnmarshalText(b []byte) error {
	parsed, err := ParseCredentialID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *TxID) UnmarshalText(b []byte) error {
	parsed, err := ParseTxID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IsNil checks - used for service-layer validation.

func (id CredentialID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TxID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (a Address) IsNil() bool       { return a == "" }

// NewCredentialID allocates a fresh credential identifier.
func NewCredentialID() CredentialID { return CredentialID(uuid.New()) }

// NewTxID allocates a fresh transaction identifier. Transaction IDs are chosen
// by the submitter so resubmission after a network timeout stays idempotent.
func NewTxID() TxID { return TxID(uuid.New()) }

// parseUUID is the shared validation logic.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
