package electrum

import (
	"errors"
	"fmt"

	"github.com/adiabat/bech32"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/mit-dci/spvd/headerdb"
	"github.com/mit-dci/spvd/spv"
)

// TxStore is the wallet side of address sync.
type TxStore interface {
	AddTx(txid chainhash.Hash, height int32) error
	SetSynced(synced bool)
}

// SyncHeaders subscribes to new tips and downloads headers from the stored
// tip, or the checkpoint, up to the server's tip. New tips are followed in
// the background after this returns.
func (c *Client) SyncHeaders() error {
	height, tip, err := c.SubscribeHeaders()
	if err != nil {
		return err
	}
	log.Infof("Server tip %d %v", height, tip.BlockHash())
	return c.catchUp(height)
}

// catchUp fetches headers up to height. If what the server sends doesn't
// connect to the stored headers it steps back a chunk at a time, down to
// the checkpoint, to find where the chains split.
func (c *Client) catchUp(height int32) error {
	c.hdrMtx.Lock()
	defer c.hdrMtx.Unlock()

	floor := c.cfg.Checkpoint + 1
	start := c.cfg.Headers.Height() + 1
	if start < floor {
		start = floor
	}
	// a tip at or below ours may still be a different block
	if start > height && height >= floor {
		start = height
	}

	for start <= height {
		count := height - start + 1
		if count > spv.ChunkSize {
			count = spv.ChunkSize
		}
		hdrs, err := c.GetHeaders(start, int(count))
		if err != nil {
			return err
		}
		if len(hdrs) == 0 {
			return fmt.Errorf("server sent no headers from %d", start)
		}

		err = c.cfg.Headers.PutHeaders(start, hdrs)
		if errors.Is(err, headerdb.ErrDoesNotConnect) {
			if start <= floor {
				return err
			}
			log.Infof("headers from %d do not connect, stepping back", start)
			start -= spv.ChunkSize
			if start < floor {
				start = floor
			}
			continue
		}
		if err != nil {
			return err
		}
		start += int32(len(hdrs))
	}
	return nil
}

// tipHandler follows header notifications.
func (c *Client) tipHandler() {
	defer c.wg.Done()
	for {
		select {
		case tip := <-c.tips:
			hdrs, err := decodeHeaders(tip.Hex)
			if err == nil && len(hdrs) == 1 {
				// the common case: the new tip sits right on ours
				c.hdrMtx.Lock()
				err = c.putTip(tip.Height, hdrs[0])
				c.hdrMtx.Unlock()
				if err == nil {
					continue
				}
			}
			before := c.cfg.Headers.CurrentChain()
			if err := c.catchUp(tip.Height); err != nil {
				log.Errorf("following tip %d: %v", tip.Height, err)
			}
			if c.cfg.Headers.CurrentChain() != before {
				c.resyncAddresses()
			}
		case <-c.quit:
			return
		}
	}
}

// putTip stores hdr if it extends the stored tip. Needs hdrMtx.
func (c *Client) putTip(height int32, hdr *wire.BlockHeader) error {
	if height != c.cfg.Headers.Height()+1 {
		return fmt.Errorf("tip %d not next", height)
	}
	prev, ok := c.cfg.Headers.ReadHeader(height - 1)
	if !ok || prev.BlockHash() != hdr.PrevBlock {
		return fmt.Errorf("tip %d does not extend ours", height)
	}
	return c.cfg.Headers.PutHeaders(height, []*wire.BlockHeader{hdr})
}

// ScriptHash returns the electrum script hash for a bech32 segwit address:
// the sha256 of its output script, in reversed hex.
func ScriptHash(addr string) (string, error) {
	script, err := bech32.SegWitAddressDecode(addr)
	if err != nil {
		return "", err
	}
	return chainhash.HashH(script).String(), nil
}

// SyncAddresses adds every tx in the history of addrs to the wallet and
// marks it synced once all of them were fetched.
func (c *Client) SyncAddresses(wallet TxStore, addrs []string) error {
	wallet.SetSynced(false)
	for _, addr := range addrs {
		sh, err := ScriptHash(addr)
		if err != nil {
			return fmt.Errorf("address %s: %v", addr, err)
		}
		items, err := c.GetHistory(sh)
		if err != nil {
			return err
		}
		for _, item := range items {
			txid, err := decodeHash(item.TxHash)
			if err != nil {
				return errBadResponse("blockchain.scripthash.get_history", err)
			}
			if err := wallet.AddTx(txid, item.Height); err != nil {
				return err
			}
		}
		log.Infof("Address %s has %d txs", addr, len(items))
	}
	wallet.SetSynced(true)
	return nil
}

// WatchAddresses syncs addrs like SyncAddresses and syncs them again every
// time the header chain reorganizes, so txs that moved blocks get their new
// heights.
func (c *Client) WatchAddresses(wallet TxStore, addrs []string) error {
	if err := c.SyncAddresses(wallet, addrs); err != nil {
		return err
	}
	c.watchMtx.Lock()
	c.watchWallet = wallet
	c.watchAddrs = append([]string(nil), addrs...)
	c.watchMtx.Unlock()
	return nil
}

func (c *Client) resyncAddresses() {
	c.watchMtx.Lock()
	wallet, addrs := c.watchWallet, c.watchAddrs
	c.watchMtx.Unlock()
	if wallet == nil {
		return
	}
	log.Infof("Chain reorganized, resyncing %d addresses", len(addrs))
	if err := c.SyncAddresses(wallet, addrs); err != nil {
		log.Errorf("resyncing addresses: %v", err)
	}
}
