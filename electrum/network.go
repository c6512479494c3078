package electrum

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mit-dci/spvd/spv"
)

// CurrentChain returns the chain of the stored headers.
func (c *Client) CurrentChain() spv.ChainRef {
	return c.cfg.Headers.CurrentChain()
}

// LocalHeight returns the height of the stored headers.
func (c *Client) LocalHeight() int32 {
	return c.cfg.Headers.Height()
}

// RequestChunk downloads header chunk index in the background. It returns
// false if that chunk is already being fetched or the client is closed.
func (c *Client) RequestChunk(index int32) bool {
	if c.closed() {
		return false
	}
	c.mtx.Lock()
	if _, ok := c.chunks[index]; ok {
		c.mtx.Unlock()
		return false
	}
	c.chunks[index] = struct{}{}
	c.mtx.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mtx.Lock()
			delete(c.chunks, index)
			c.mtx.Unlock()
		}()

		start := index * spv.ChunkSize
		hdrs, err := c.GetHeaders(start, spv.ChunkSize)
		if err != nil {
			log.Errorf("chunk %d: %v", index, err)
			return
		}
		c.hdrMtx.Lock()
		err = c.cfg.Headers.PutHeaders(start, hdrs)
		c.hdrMtx.Unlock()
		if err != nil {
			log.Errorf("storing chunk %d: %v", index, err)
			return
		}
		log.Debugf("stored chunk %d, %d headers", index, len(hdrs))
	}()
	return true
}

// RequestMerkleProof fetches the branch for txid in the background and
// passes the result to done.
func (c *Client) RequestMerkleProof(
	txid chainhash.Hash, height int32, done spv.ProofCallback) error {

	if c.closed() {
		return ErrClientShutdown
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		proof, err := c.GetMerkle(txid, height)
		done(&spv.ProofResponse{TxID: txid, Proof: proof, Err: err})
	}()
	return nil
}
