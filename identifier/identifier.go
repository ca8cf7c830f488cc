// Package identifier implements EntityId, the 128-bit opaque entity
// identifier used as the primary key throughout EntiDB.
package identifier

import (
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/cuemby/entidb/internal/errs"
)

// Size is the fixed length in bytes of an EntityId.
const Size = 16

// EntityId is a 16-byte opaque entity identifier. Equality and hashing
// are over the raw bytes; there is no structure a caller may rely on
// beyond uniqueness.
type EntityId [Size]byte

// New draws a fresh EntityId from a cryptographic RNG. Concretely this
// is a random (v4) UUID's raw 16 bytes: 122 effective random bits plus
// the 6 fixed version/variant nibble bits the UUID v4 layout reserves.
// Collisions are assumed not to occur in practice.
func New() EntityId {
	var id EntityId
	copy(id[:], uuid.New()[:])
	return id
}

// FromBytes builds an EntityId from exactly Size raw bytes.
func FromBytes(b []byte) (EntityId, error) {
	var id EntityId
	if len(b) != Size {
		return id, errs.New(errs.InvalidArgument, "identifier.FromBytes", nil)
	}
	copy(id[:], b)
	return id, nil
}

// ToBytes returns a copy of the identifier's raw bytes.
func (id EntityId) ToBytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// ToHex renders the identifier as lowercase hex.
func (id EntityId) ToHex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id EntityId) String() string {
	return id.ToHex()
}

// Equal reports bytewise equality. EntityId is comparable directly
// with == since it is a fixed-size array, but Equal is provided for
// readability at call sites and symmetry with other value types.
func (id EntityId) Equal(other EntityId) bool {
	return id == other
}

// IsZero reports whether id is the all-zero identifier, useful for
// "not found" sentinel returns without an extra bool.
func (id EntityId) IsZero() bool {
	return id == EntityId{}
}
