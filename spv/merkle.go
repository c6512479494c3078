package spv

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mit-dci/spvd/common"
)

// maxBranchLen is the deepest branch Pos can index.
const maxBranchLen = 32

// Evaluator computes merkle roots from branches. The zero value uses
// DoubleHash and LooksLikeTx.
type Evaluator struct {
	Hash  HashFunc
	Probe TxProbe
}

var defaultEvaluator Evaluator

// ComputeRoot folds a branch into a root using the default evaluator.
func ComputeRoot(leaf chainhash.Hash, proof *MerkleProof) (chainhash.Hash, error) {
	return defaultEvaluator.ComputeRoot(leaf, proof)
}

// ComputeRoot folds the branch in proof into leaf and returns the resulting
// root. Every intermediate node is probed; if one decodes as a transaction
// the whole proof is rejected with ErrForgedProof.
func (e Evaluator) ComputeRoot(
	leaf chainhash.Hash, proof *MerkleProof) (chainhash.Hash, error) {

	var empty chainhash.Hash
	if proof == nil {
		return empty, errMalformedProof("nil proof")
	}
	if len(proof.Siblings) > maxBranchLen {
		return empty, errMalformedProof("branch too long")
	}
	if len(proof.Siblings) < maxBranchLen && proof.Pos>>uint(len(proof.Siblings)) != 0 {
		return empty, errMalformedProof("position out of range")
	}

	hash := e.Hash
	if hash == nil {
		hash = DoubleHash
	}
	probe := e.Probe
	if probe == nil {
		probe = LooksLikeTx
	}

	buf := common.NewFreeBytes()
	defer buf.Free()

	h := leaf
	for i, sib := range proof.Siblings {
		if (proof.Pos>>uint(i))&1 == 1 {
			h = hash(buf.Pair(sib[:], h[:]))
		} else {
			h = hash(buf.Pair(h[:], sib[:]))
		}
		if probe(h[:]) {
			return empty, errForgedProof(i, h)
		}
	}
	return h, nil
}
