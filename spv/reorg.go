package spv

// undoVerifications drops every tx that the wallet says was undone by the
// switch to chain, along with any request or proof for a block at or above
// the fork, and records chain as current. Called with chainMtx held.
func (v *Verifier) undoVerifications(chain ChainRef) {
	height := v.cfg.Headers.DivergenceHeight(v.lastChain, chain)
	log.Infof("chain changed, undoing verifications from height %d", height)

	txids := v.cfg.Wallet.UndoVerifications(chain, height)
	for _, txid := range txids {
		log.Debugf("redoing %v", txid)
		v.state.invalidate(txid)
	}
	for _, txid := range v.state.invalidateFrom(height) {
		log.Debugf("dropping %v", txid)
	}
	v.lastChain = chain
}
