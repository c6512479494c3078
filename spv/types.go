package spv

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChunkSize is the number of headers in one header chunk, one retarget
// period.
const ChunkSize = 2016

// MerkleProof is a merkle branch for a single transaction as returned by a
// server. None of the fields are trusted.
type MerkleProof struct {
	// Siblings are the branch hashes, leaf level first.
	Siblings []chainhash.Hash
	// Pos is the index of the transaction in its block. Bit i says which
	// side Siblings[i] goes on.
	Pos uint32
	// Height is the block height the server claims the tx is in.
	Height int32
}

// ProofResponse completes a merkle proof request. Err is set when the server
// or the connection reported an error, in which case Proof is nil.
type ProofResponse struct {
	TxID  chainhash.Hash
	Proof *MerkleProof
	Err   error
}

// ProofCallback is called by the network once per RequestMerkleProof call.
// It may be called from any goroutine.
type ProofCallback func(*ProofResponse)

// TxInfo is what the wallet gets told about a verified transaction.
type TxInfo struct {
	Height    int32
	Timestamp int64
	Pos       uint32
}

// ChainRef identifies the chain the network is following. Refs for the same
// chain compare equal; a ref that differs from the last one seen means the
// chain was reorganized.
type ChainRef struct {
	Base   chainhash.Hash
	Serial uint64
}

// Network is the connection to the server that provides merkle branches and
// headers.
type Network interface {
	CurrentChain() ChainRef
	LocalHeight() int32
	// RequestChunk asks for header chunk index to be downloaded. It returns
	// true if a request was actually sent.
	RequestChunk(index int32) bool
	// RequestMerkleProof asks for the branch of txid in the block at
	// height. done is called once with the result unless an error is
	// returned here.
	RequestMerkleProof(txid chainhash.Hash, height int32, done ProofCallback) error
}

// Headers gives access to the locally stored header chain.
type Headers interface {
	ReadHeader(height int32) (*wire.BlockHeader, bool)
	// DivergenceHeight returns the lowest height at which the two chains
	// may hold different blocks.
	DivergenceHeight(oldChain, newChain ChainRef) int32
}

// Wallet is the store of transactions that need verifying.
type Wallet interface {
	// ListUnverified returns the unverified txs and the height the server
	// reported for each. Heights <= 0 are unconfirmed.
	ListUnverified() map[chainhash.Hash]int32
	AddVerifiedTx(txid chainhash.Hash, info TxInfo)
	// UndoVerifications drops verified txs at or above height and returns
	// them.
	UndoVerifications(chain ChainRef, height int32) []chainhash.Hash
	IsUpToDate() bool
	SaveVerifiedTx() error
}
