package spv

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// proofQueueSize is how many proof responses can wait for the handler
// before the network's callback blocks.
const proofQueueSize = 64

// Config holds the collaborators and parameters of a Verifier.
type Config struct {
	Network Network
	Headers Headers
	Wallet  Wallet

	// CheckpointHeight is the height at or below which headers are
	// fetched in chunks rather than one by one.
	CheckpointHeight int32

	// Evaluator computes roots from branches. The zero value is the
	// double sha256 evaluator with the inner node check.
	Evaluator Evaluator
}

// Stats is a snapshot of the verifier state.
type Stats struct {
	Requested int
	Verified  int
}

// Verifier drives SPV verification of wallet transactions.
type Verifier struct {
	started  int32
	shutdown int32

	cfg   Config
	state *state

	// tickMtx keeps ticks from overlapping.
	tickMtx sync.Mutex

	// chainMtx guards lastChain and is held across a reorg and across
	// marking a tx verified and telling the wallet.
	chainMtx  sync.Mutex
	lastChain ChainRef

	proofs chan *ProofResponse
	quit   chan struct{}
	wg     sync.WaitGroup
}

// New returns a verifier for the chain the network is currently on.
func New(cfg *Config) *Verifier {
	return &Verifier{
		cfg:       *cfg,
		state:     newState(),
		lastChain: cfg.Network.CurrentChain(),
		proofs:    make(chan *ProofResponse, proofQueueSize),
		quit:      make(chan struct{}),
	}
}

// Start runs Tick every interval and handles proof responses until Stop is
// called.
func (v *Verifier) Start(interval time.Duration) {
	if !atomic.CompareAndSwapInt32(&v.started, 0, 1) {
		return
	}
	log.Infof("Starting verifier, tick every %v", interval)

	v.wg.Add(2)
	go v.proofHandler()
	go v.tickHandler(interval)
}

// Stop shuts the verifier down. Proof responses that arrive afterwards are
// dropped.
func (v *Verifier) Stop() {
	if !atomic.CompareAndSwapInt32(&v.shutdown, 0, 1) {
		return
	}
	log.Infof("Verifier shutting down")
	close(v.quit)
	v.wg.Wait()
}

func (v *Verifier) stopped() bool {
	return atomic.LoadInt32(&v.shutdown) != 0
}

func (v *Verifier) tickHandler(interval time.Duration) {
	defer v.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	v.Tick()
	for {
		select {
		case <-ticker.C:
			v.Tick()
		case <-v.quit:
			return
		}
	}
}

func (v *Verifier) proofHandler() {
	defer v.wg.Done()
	for {
		select {
		case resp := <-v.proofs:
			v.HandleProof(resp)
		case <-v.quit:
			return
		}
	}
}

// deliverProof is the callback handed to the network with every request.
func (v *Verifier) deliverProof(resp *ProofResponse) {
	if v.stopped() {
		return
	}
	if atomic.LoadInt32(&v.started) == 0 {
		v.HandleProof(resp)
		return
	}
	select {
	case v.proofs <- resp:
	case <-v.quit:
	}
}

// Tick requests proofs for every wallet tx that can be verified and isn't
// already requested or verified. If the network changed chains since the
// last tick, invalidated txs are dropped first.
func (v *Verifier) Tick() {
	if v.stopped() {
		return
	}
	v.tickMtx.Lock()
	defer v.tickMtx.Unlock()

	v.chainMtx.Lock()
	if chain := v.cfg.Network.CurrentChain(); chain != v.lastChain {
		v.undoVerifications(chain)
	}
	v.chainMtx.Unlock()

	localHeight := v.cfg.Network.LocalHeight()
	for txid, height := range v.cfg.Wallet.ListUnverified() {
		if v.state.known(txid) {
			continue
		}
		// unconfirmed, or above our header tip
		if height <= 0 || height > localHeight {
			continue
		}

		if _, ok := v.cfg.Headers.ReadHeader(height); !ok {
			// Below the checkpoint headers only come in chunks.
			if height <= v.cfg.CheckpointHeight {
				index := height / ChunkSize
				if v.cfg.Network.RequestChunk(index) {
					log.Debugf("requesting chunk %d for height %d", index, height)
				}
			}
			continue
		}

		if !v.state.request(txid, height) {
			continue
		}
		err := v.cfg.Network.RequestMerkleProof(txid, height, v.deliverProof)
		if err != nil {
			v.state.unrequest(txid)
			log.Warnf("merkle request for %v failed: %v", txid, err)
			continue
		}
		log.Debugf("requested merkle %v", txid)
	}

	v.maybeSave()
}

// HandleProof checks a proof response and, if it is good, marks the tx
// verified and tells the wallet. A failed proof leaves the tx requested so
// the same branch isn't asked for again in a loop; only a reorg clears it.
// The returned error is informational.
func (v *Verifier) HandleProof(resp *ProofResponse) error {
	if v.stopped() {
		// we have been shut down, this is an orphan response
		return ErrVerifierStopped
	}

	err := v.checkProof(resp)
	if err != nil {
		if errors.Is(err, ErrNetwork) {
			log.Errorf("received an error for %v: %v", resp.TxID, err)
		} else {
			log.Errorf("merkle verification failed for %v: %v", resp.TxID, err)
		}
		return err
	}

	v.maybeSave()
	return nil
}

func (v *Verifier) checkProof(resp *ProofResponse) error {
	if resp.Err != nil {
		return errNetwork(resp.Err)
	}
	proof := resp.Proof
	if proof == nil {
		return errMalformedProof("empty response")
	}

	root, err := v.cfg.Evaluator.ComputeRoot(resp.TxID, proof)
	if err != nil {
		return err
	}

	v.chainMtx.Lock()
	defer v.chainMtx.Unlock()

	// read the header now; it may have arrived or changed since the request
	header, ok := v.cfg.Headers.ReadHeader(proof.Height)
	if !ok {
		return errHeaderUnavailable(proof.Height)
	}
	if header.MerkleRoot != root {
		return errRootMismatch(header.MerkleRoot, root)
	}

	if !v.state.verify(resp.TxID, root, proof.Height) {
		log.Debugf("dropping proof for %v, no longer requested", resp.TxID)
		return nil
	}
	log.Debugf("verified %v", resp.TxID)
	v.cfg.Wallet.AddVerifiedTx(resp.TxID, TxInfo{
		Height:    proof.Height,
		Timestamp: header.Timestamp.Unix(),
		Pos:       proof.Pos,
	})
	return nil
}

// maybeSave asks the wallet to persist verified txs once there is nothing
// left in flight and the wallet itself is synced.
func (v *Verifier) maybeSave() {
	if !v.IsUpToDate() || !v.cfg.Wallet.IsUpToDate() {
		return
	}
	if err := v.cfg.Wallet.SaveVerifiedTx(); err != nil {
		log.Errorf("saving verified txs: %v", err)
	}
}

// IsUpToDate returns true when no proof requests are outstanding.
func (v *Verifier) IsUpToDate() bool {
	requested, _ := v.state.counts()
	return requested == 0
}

// RemoveProof forgets txid, e.g. when it was removed from the wallet.
func (v *Verifier) RemoveProof(txid chainhash.Hash) {
	v.state.invalidate(txid)
}

// MerkleRoot returns the root txid was verified against.
func (v *Verifier) MerkleRoot(txid chainhash.Hash) (chainhash.Hash, bool) {
	return v.state.root(txid)
}

// IsRequested reports whether a proof for txid is outstanding.
func (v *Verifier) IsRequested(txid chainhash.Hash) bool {
	return v.state.isRequested(txid)
}

// Stats returns the number of requested and verified txs.
func (v *Verifier) Stats() Stats {
	r, ver := v.state.counts()
	return Stats{Requested: r, Verified: ver}
}
