package spv

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// HashFunc hashes a byte string into a 32 byte digest.
type HashFunc func(b []byte) chainhash.Hash

// DoubleHash returns sha256(sha256(b)).
func DoubleHash(b []byte) chainhash.Hash {
	return chainhash.DoubleHashH(b)
}
