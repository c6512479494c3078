package spv

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// verifiedProof is the root a tx was verified against and the height of the
// block holding it.
type verifiedProof struct {
	root   chainhash.Hash
	height int32
}

// state is the verifier's record of which txs have a request out and which
// have been verified. A txid is never in both maps. All access goes through
// the methods below, each of which holds mtx for its whole read-modify-write.
type state struct {
	mtx       sync.Mutex
	roots     map[chainhash.Hash]verifiedProof
	requested map[chainhash.Hash]int32
}

func newState() *state {
	return &state{
		roots:     make(map[chainhash.Hash]verifiedProof),
		requested: make(map[chainhash.Hash]int32),
	}
}

// request marks txid as requested at height. It returns false, and changes
// nothing, if txid is already requested or verified.
func (s *state) request(txid chainhash.Hash, height int32) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.requested[txid]; ok {
		return false
	}
	if _, ok := s.roots[txid]; ok {
		return false
	}
	s.requested[txid] = height
	return true
}

// known reports whether txid is requested or verified.
func (s *state) known(txid chainhash.Hash) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, req := s.requested[txid]
	_, ver := s.roots[txid]
	return req || ver
}

// unrequest undoes request when the request could not be sent.
func (s *state) unrequest(txid chainhash.Hash) {
	s.mtx.Lock()
	delete(s.requested, txid)
	s.mtx.Unlock()
}

// verify moves txid from requested to verified with the given root and
// block height. It returns false if txid was not requested, which happens
// when a reorg invalidated the request while the proof was in flight.
func (s *state) verify(txid, root chainhash.Hash, height int32) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.requested[txid]; !ok {
		return false
	}
	delete(s.requested, txid)
	s.roots[txid] = verifiedProof{root: root, height: height}
	return true
}

// invalidate forgets everything about txid.
func (s *state) invalidate(txid chainhash.Hash) {
	s.mtx.Lock()
	delete(s.roots, txid)
	delete(s.requested, txid)
	s.mtx.Unlock()
}

// invalidateFrom drops every request and every proof for a block at or
// above height and returns the txids dropped.
func (s *state) invalidateFrom(height int32) []chainhash.Hash {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var dropped []chainhash.Hash
	for txid, h := range s.requested {
		if h >= height {
			delete(s.requested, txid)
			dropped = append(dropped, txid)
		}
	}
	for txid, p := range s.roots {
		if p.height >= height {
			delete(s.roots, txid)
			dropped = append(dropped, txid)
		}
	}
	return dropped
}

func (s *state) root(txid chainhash.Hash) (chainhash.Hash, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.roots[txid]
	return p.root, ok
}

func (s *state) isRequested(txid chainhash.Hash) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.requested[txid]
	return ok
}

// counts returns the number of requested and verified txs.
func (s *state) counts() (requested, verified int) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.requested), len(s.roots)
}
