package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "PredictLedger:genesis:v1"

// ReceiptHasher chains receipt hashes
type ReceiptHasher struct {
	prevHash [32]byte
}

// NewReceiptHasher initializes with genesis hash
func NewReceiptHasher() *ReceiptHasher {
	return &ReceiptHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash calculates
// receipt_hash[N] = SHA-256(prev_hash || sequence || command_digest || outcome_digest)
func (h *ReceiptHasher) ComputeHash(sequence int64, commandDigest, outcomeDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	// sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(commandDigest)
	hasher.Write(outcomeDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash
	return hash
}

// PrevHash returns current chain tip
func (h *ReceiptHasher) PrevHash() [32]byte {
	return h.prevHash
}

// Restore continues the chain from a persisted tip.
func (h *ReceiptHasher) Restore(tip []byte) {
	copy(h.prevHash[:], tip)
}
