package claims

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBeneficiary returns a short stable digest of a beneficiary id for logs.
// Beneficiary ids are never logged in clear text.
func HashBeneficiary(id string) string {
	return beneficiaryKey(id)[:12]
}

// beneficiaryKey is the full hex SHA-256 of a beneficiary id, used as a
// cache key.
func beneficiaryKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
