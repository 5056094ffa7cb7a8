package state

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "PayLedger:genesis:v1"

// Digest computes a deterministic hash of the chart:
// SHA-256(SHA-256(seed) || count || canonical(account_0) || ... ) with accounts in client order.
//
// Two runs over the same input produce the same digest regardless of how many
// workers processed it.
func Digest(c *Chart) [32]byte {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	accounts := c.Accounts()

	hasher := sha256.New()

	// Write genesis (32 bytes)
	hasher.Write(genesis[:])

	// Write account count (8 bytes LE)
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(accounts)))
	hasher.Write(countBuf[:])

	for i := range accounts {
		hasher.Write(accounts[i].CanonicalBytes())
	}

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}
