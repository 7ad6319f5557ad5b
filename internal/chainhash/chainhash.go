// Package chainhash provides the canonical block hashing and wire encoding
// primitives shared by every node (spec §4.1). It is deliberately a pure,
// dependency-free package: the hashing recipe is the wire contract and must
// stay bit-exact across the fleet.
package chainhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Block mirrors the wire representation of a block (spec §6): data always
// travels as a JSON text string, never as a nested object.
type Block struct {
	Index        int64  `json:"index"`
	Timestamp    string `json:"timestamp"`
	Data         string `json:"data"`
	PreviousHash string `json:"previousHash"`
	Hash         string `json:"hash"`
}

// HashBlock computes the canonical hex hash of a block:
// SHA256(str(index) ∥ timestamp ∥ data ∥ previousHash), where str(index) is
// the unpadded decimal form and concatenation is textual. This recipe is
// fragile by nature but is the wire contract; any canonicalization change
// invalidates every existing chain.
func HashBlock(b Block) string {
	buf := make([]byte, 0, 128)
	buf = strconv.AppendInt(buf, b.Index, 10)
	buf = append(buf, b.Timestamp...)
	buf = append(buf, b.Data...)
	buf = append(buf, b.PreviousHash...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// HashPair computes SHA256(left ∥ right) over hex-string children, as used
// by the Merkle tree's internal nodes: left and right are decoded from hex
// to their raw bytes, concatenated, and re-hashed. Malformed hex is treated
// as its own raw bytes so a caller error never panics here; validation of
// hex-ness happens at the chain/merkle layer.
func HashPair(left, right string) string {
	l, err := hex.DecodeString(left)
	if err != nil {
		l = []byte(left)
	}
	r, err := hex.DecodeString(right)
	if err != nil {
		r = []byte(right)
	}
	buf := make([]byte, 0, len(l)+len(r))
	buf = append(buf, l...)
	buf = append(buf, r...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
