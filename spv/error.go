package spv

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrForgedProof means an inner node of a branch decodes as a tx.
	ErrForgedProof = errors.New("inner node of merkle branch is a valid tx")
	// ErrMalformedProof means a branch is missing, too long, or its
	// position doesn't fit it.
	ErrMalformedProof = errors.New("malformed merkle branch")
	// ErrHeaderUnavailable means there is no stored header at the proof's
	// height.
	ErrHeaderUnavailable = errors.New("missing header")
	// ErrRootMismatch means the branch doesn't lead to the header's root.
	ErrRootMismatch = errors.New("merkle root mismatch")
	// ErrNetwork wraps an error the network reported for a request.
	ErrNetwork = errors.New("network error")
	// ErrVerifierStopped is returned for responses handled after Stop.
	ErrVerifierStopped = errors.New("verifier stopped")
)

func errForgedProof(step int, node chainhash.Hash) error {
	return fmt.Errorf("%w: step %d node %s", ErrForgedProof, step, node)
}

func errMalformedProof(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedProof, reason)
}

func errHeaderUnavailable(height int32) error {
	return fmt.Errorf("%w: height %d", ErrHeaderUnavailable, height)
}

func errRootMismatch(want, got chainhash.Hash) error {
	return fmt.Errorf("%w: header %s != computed %s", ErrRootMismatch, want, got)
}

func errNetwork(s error) error {
	return fmt.Errorf("%w: %v", ErrNetwork, s)
}
