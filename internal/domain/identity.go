// Package domain contains call entities and their invariants, no transport.
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const MaxIdentityLen = 64

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

// Identity is an opaque, stable peer identifier used to address signaling.
type Identity string

// ParseIdentity trims and validates a user supplied identity.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return "", ErrIdentityEmpty
	}
	if len(s) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return Identity(s), nil
}

func (i Identity) String() string { return string(i) }

// CallID correlates every message that belongs to one call attempt.
type CallID string

func NewCallID() CallID { return CallID(uuid.NewString()) }

func (id CallID) String() string { return string(id) }
