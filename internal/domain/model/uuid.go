package model

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OwnerUUIDFromBytes32 recovers the vendor profile uuid from the bytes32 the
// contract stores it in. The uuid occupies the low 16 bytes; the high bytes
// are zero padding.
func OwnerUUIDFromBytes32(s string) (uuid.UUID, error) {
	h := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(h) > 32 {
		h = h[len(h)-32:]
	}
	if len(h) < 32 {
		h = strings.Repeat("0", 32-len(h)) + h
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return uuid.Nil, fmt.Errorf("owner uuid %q: %w", s, err)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("owner uuid %q: %w", s, err)
	}
	return id, nil
}
