package types

import (
	"fmt"

	"github.com/roundstep/roundstep/crypto"
	"github.com/roundstep/roundstep/crypto/merkle"
	"github.com/roundstep/roundstep/libs/bytes"
)

// Tx is an arbitrary byte array. Transaction contents are opaque to the
// consensus layer; only their hashes participate in the block hash.
type Tx []byte

// Hash computes the SHA-256 hash of the raw transaction bytes.
func (tx Tx) Hash() bytes.HexBytes {
	return crypto.Checksum(tx)
}

// String returns the hex-encoded transaction as a string.
func (tx Tx) String() string {
	return fmt.Sprintf("Tx{%X}", []byte(tx))
}

// Txs is a slice of Tx.
type Txs []Tx

// Hash returns the Merkle root hash of the transactions.
func (txs Txs) Hash() bytes.HexBytes {
	hl := make([][]byte, len(txs))
	for i := 0; i < len(txs); i++ {
		hl[i] = txs[i].Hash()
	}
	return merkle.HashFromByteSlices(hl)
}
