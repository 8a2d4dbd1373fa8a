package store

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/agentloop/agentloop/pkg/models"
)

// ContentHash derives the dedup key for a message: SHA-256 over
// role || 0x00 || content, truncated to the leading 64 bits and
// reinterpreted as a signed integer so it fits the messages.content_hash
// BIGINT column. Collisions only matter within a single session (the
// uniqueness constraint is scoped to session_id, content_hash), so 64
// bits of a cryptographic hash is ample.
func ContentHash(role models.MessageRole, content string) uint64 {
	h := sha256.New()
	h.Write([]byte(role))
	h.Write([]byte{0x00})
	h.Write([]byte(content))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}
