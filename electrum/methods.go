package electrum

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	json "github.com/goccy/go-json"
	"github.com/mit-dci/spvd/spv"
)

const headerSize = 80

type merkleResult struct {
	BlockHeight int32    `json:"block_height"`
	Merkle      []string `json:"merkle"`
	Pos         uint32   `json:"pos"`
}

type headersResult struct {
	Count int    `json:"count"`
	Hex   string `json:"hex"`
	Max   int    `json:"max"`
}

type tipNotification struct {
	Height int32  `json:"height"`
	Hex    string `json:"hex"`
}

// HistoryItem is one tx in the history of a script.
type HistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int32  `json:"height"`
}

// GetMerkle returns the merkle branch of txid in the block at height.
func (c *Client) GetMerkle(txid chainhash.Hash, height int32) (*spv.MerkleProof, error) {
	const method = "blockchain.transaction.get_merkle"
	raw, err := c.Call(method, txid.String(), height)
	if err != nil {
		return nil, err
	}
	var res merkleResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errBadResponse(method, err)
	}

	proof := &spv.MerkleProof{
		Siblings: make([]chainhash.Hash, len(res.Merkle)),
		Pos:      res.Pos,
		Height:   res.BlockHeight,
	}
	for i, s := range res.Merkle {
		h, err := decodeHash(s)
		if err != nil {
			return nil, errBadResponse(method, err)
		}
		proof.Siblings[i] = h
	}
	return proof, nil
}

// GetHeaders returns up to count headers starting at start.
func (c *Client) GetHeaders(start int32, count int) ([]*wire.BlockHeader, error) {
	const method = "blockchain.block.headers"
	raw, err := c.Call(method, start, count)
	if err != nil {
		return nil, err
	}
	var res headersResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errBadResponse(method, err)
	}
	hdrs, err := decodeHeaders(res.Hex)
	if err != nil {
		return nil, errBadResponse(method, err)
	}
	if len(hdrs) != res.Count || len(hdrs) > count {
		return nil, errBadResponse(method,
			fmt.Errorf("asked for %d headers, count %d, got %d",
				count, res.Count, len(hdrs)))
	}
	return hdrs, nil
}

// SubscribeHeaders subscribes to new tips and returns the current one.
func (c *Client) SubscribeHeaders() (int32, *wire.BlockHeader, error) {
	raw, err := c.Call(headersSubscribe)
	if err != nil {
		return 0, nil, err
	}
	var tip tipNotification
	if err := json.Unmarshal(raw, &tip); err != nil {
		return 0, nil, errBadResponse(headersSubscribe, err)
	}
	hdrs, err := decodeHeaders(tip.Hex)
	if err != nil || len(hdrs) != 1 {
		return 0, nil, errBadResponse(headersSubscribe,
			fmt.Errorf("tip header %q: %v", tip.Hex, err))
	}
	return tip.Height, hdrs[0], nil
}

// GetHistory returns the confirmed and mempool txs touching the script
// with the given electrum script hash.
func (c *Client) GetHistory(scriptHash string) ([]HistoryItem, error) {
	const method = "blockchain.scripthash.get_history"
	raw, err := c.Call(method, scriptHash)
	if err != nil {
		return nil, err
	}
	var items []HistoryItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errBadResponse(method, err)
	}
	return items, nil
}

// decodeHash parses a hash in the reversed hex display order.
func decodeHash(s string) (chainhash.Hash, error) {
	if len(s) != 2*chainhash.HashSize {
		return chainhash.Hash{}, fmt.Errorf("hash %q has length %d", s, len(s))
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *h, nil
}

func decodeHeaders(s string) ([]*wire.BlockHeader, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b)%headerSize != 0 {
		return nil, fmt.Errorf("%d header bytes", len(b))
	}
	hdrs := make([]*wire.BlockHeader, 0, len(b)/headerSize)
	r := bytes.NewReader(b)
	for r.Len() > 0 {
		hdr := new(wire.BlockHeader)
		if err := hdr.Deserialize(r); err != nil {
			return nil, err
		}
		hdrs = append(hdrs, hdr)
	}
	return hdrs, nil
}
