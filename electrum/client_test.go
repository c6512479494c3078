package electrum

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	json "github.com/goccy/go-json"
	"github.com/mit-dci/spvd/headerdb"
	"github.com/mit-dci/spvd/spv"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

type testRequest struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeServer answers electrum requests from an in memory chain.
type fakeServer struct {
	t   *testing.T
	con net.Conn

	mtx     sync.Mutex
	wmtx    sync.Mutex
	chain   []*wire.BlockHeader // by height, [0] is genesis
	merkle  map[string]*merkleResult
	history map[string][]HistoryItem
	calls   map[string]int
}

func newFakeServer(t *testing.T, con net.Conn, chain []*wire.BlockHeader) *fakeServer {
	s := &fakeServer{
		t:       t,
		con:     con,
		chain:   chain,
		merkle:  make(map[string]*merkleResult),
		history: make(map[string][]HistoryItem),
		calls:   make(map[string]int),
	}
	go s.serve()
	return s
}

func (s *fakeServer) write(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.t.Error(err)
		return
	}
	s.wmtx.Lock()
	defer s.wmtx.Unlock()
	s.con.Write(append(b, '\n'))
}

func (s *fakeServer) serve() {
	r := bufio.NewReader(s.con)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		var req testRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.t.Errorf("bad request %s: %v", line, err)
			return
		}
		if req.Method == "slow" {
			// never answered
			continue
		}
		result, rerr := s.handle(&req)
		if rerr != nil {
			s.write(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID, "error": rerr})
			continue
		}
		s.write(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
}

func (s *fakeServer) handle(req *testRequest) (interface{}, *RPCError) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.calls[req.Method]++

	switch req.Method {
	case "server.version":
		return []string{"ElectrumX 1.16", "1.4"}, nil

	case "blockchain.headers.subscribe":
		tip := int32(len(s.chain) - 1)
		return &tipNotification{Height: tip, Hex: headersHex(s.chain[tip:])}, nil

	case "blockchain.block.headers":
		var start, count int
		json.Unmarshal(req.Params[0], &start)
		json.Unmarshal(req.Params[1], &count)
		if start >= len(s.chain) {
			return &headersResult{Max: 2016}, nil
		}
		end := start + count
		if end > len(s.chain) {
			end = len(s.chain)
		}
		return &headersResult{
			Count: end - start,
			Hex:   headersHex(s.chain[start:end]),
			Max:   2016,
		}, nil

	case "blockchain.transaction.get_merkle":
		var txid string
		json.Unmarshal(req.Params[0], &txid)
		res, ok := s.merkle[txid]
		if !ok {
			return nil, &RPCError{Code: 1, Message: "tx not in block"}
		}
		return res, nil

	case "blockchain.scripthash.get_history":
		var sh string
		json.Unmarshal(req.Params[0], &sh)
		items := s.history[sh]
		if items == nil {
			items = []HistoryItem{}
		}
		return items, nil
	}
	return nil, &RPCError{Code: -32601, Message: "unknown method"}
}

// setChain swaps the server's chain and notifies the client of the tip.
func (s *fakeServer) setChain(chain []*wire.BlockHeader) {
	s.mtx.Lock()
	s.chain = chain
	tip := int32(len(chain) - 1)
	note := &tipNotification{Height: tip, Hex: headersHex(chain[tip:])}
	s.mtx.Unlock()

	s.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "blockchain.headers.subscribe",
		"params":  []*tipNotification{note},
	})
}

func headersHex(hdrs []*wire.BlockHeader) string {
	var buf bytes.Buffer
	for _, hdr := range hdrs {
		hdr.Serialize(&buf)
	}
	return hex.EncodeToString(buf.Bytes())
}

func makeHeaders(prev chainhash.Hash, n int, salt uint32) []*wire.BlockHeader {
	hdrs := make([]*wire.BlockHeader, n)
	for i := range hdrs {
		hdrs[i] = &wire.BlockHeader{
			Version:    1,
			PrevBlock:  prev,
			MerkleRoot: chainhash.HashH([]byte{byte(i), byte(i >> 8), byte(salt)}),
			Timestamp:  time.Unix(int64(1400000000+600*i), 0),
			Nonce:      salt,
		}
		prev = hdrs[i].BlockHash()
	}
	return hdrs
}

func newTestClient(t *testing.T, chain []*wire.BlockHeader,
	checkpoint int32) (*Client, *fakeServer, *headerdb.Store) {

	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := headerdb.New(db)
	if err != nil {
		t.Fatal(err)
	}
	clientCon, serverCon := net.Pipe()
	server := newFakeServer(t, serverCon, chain)
	c := NewClient(clientCon, &Config{
		Server:     "pipe",
		Headers:    store,
		Checkpoint: checkpoint,
	})
	t.Cleanup(func() {
		c.Close()
		serverCon.Close()
		store.Close()
	})
	return c, server, store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCall(t *testing.T) {
	c, _, _ := newTestClient(t, makeHeaders(chainhash.Hash{}, 1, 0), 0)

	raw, err := c.Call("server.version", "spvd", "1.4")
	if err != nil {
		t.Fatal(err)
	}
	var version []string
	if err := json.Unmarshal(raw, &version); err != nil || len(version) != 2 {
		t.Fatalf("version %s: %v", raw, err)
	}

	_, err = c.Call("no.such.method")
	if !errors.Is(err, ErrRPC) {
		t.Fatalf("expected ErrRPC, got %v", err)
	}
	var rerr *RPCError
	if !errors.As(err, &rerr) || rerr.Code != -32601 {
		t.Fatalf("rpc error %v", err)
	}
}

func TestDecodeRPCError(t *testing.T) {
	err := decodeRPCError(json.RawMessage(`"daemon error"`))
	if err.Error() != "0: daemon error" {
		t.Fatalf("string error decoded as %q", err)
	}
	err = decodeRPCError(json.RawMessage(`{"code":2,"message":"bad"}`))
	if err.Error() != "2: bad" {
		t.Fatalf("object error decoded as %q", err)
	}
}

func TestCloseFailsPending(t *testing.T) {
	c, _, _ := newTestClient(t, makeHeaders(chainhash.Hash{}, 1, 0), 0)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Call("slow")
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClientShutdown) {
			t.Fatalf("expected ErrClientShutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("call not failed by Close")
	}

	if _, err := c.Call("server.version"); !errors.Is(err, ErrClientShutdown) {
		t.Fatalf("call after close: %v", err)
	}
	err := c.RequestMerkleProof(chainhash.Hash{}, 1, func(*spv.ProofResponse) {})
	if !errors.Is(err, ErrClientShutdown) {
		t.Fatalf("proof request after close: %v", err)
	}
}

func TestRequestMerkleProof(t *testing.T) {
	c, server, _ := newTestClient(t, makeHeaders(chainhash.Hash{}, 1, 0), 0)

	txid := chainhash.HashH([]byte("tx"))
	sibs := []chainhash.Hash{chainhash.HashH([]byte("a")), chainhash.HashH([]byte("b"))}
	server.merkle[txid.String()] = &merkleResult{
		BlockHeight: 120,
		Merkle:      []string{sibs[0].String(), sibs[1].String()},
		Pos:         3,
	}

	done := make(chan *spv.ProofResponse, 2)
	if err := c.RequestMerkleProof(txid, 120, func(r *spv.ProofResponse) { done <- r }); err != nil {
		t.Fatal(err)
	}
	resp := <-done
	if resp.Err != nil {
		t.Fatal(resp.Err)
	}
	if resp.TxID != txid || resp.Proof.Height != 120 || resp.Proof.Pos != 3 {
		t.Fatalf("response %+v", resp)
	}
	for i := range sibs {
		if resp.Proof.Siblings[i] != sibs[i] {
			t.Fatalf("sibling %d byte order wrong", i)
		}
	}

	unknown := chainhash.HashH([]byte("unknown"))
	if err := c.RequestMerkleProof(unknown, 5, func(r *spv.ProofResponse) { done <- r }); err != nil {
		t.Fatal(err)
	}
	resp = <-done
	if !errors.Is(resp.Err, ErrRPC) || resp.Proof != nil {
		t.Fatalf("expected rpc error, got %+v", resp)
	}
}

func TestSyncHeadersAndChunks(t *testing.T) {
	chain := makeHeaders(chainhash.Hash{}, 30, 0)
	c, server, store := newTestClient(t, chain, 10)

	if err := c.SyncHeaders(); err != nil {
		t.Fatal(err)
	}
	if c.LocalHeight() != 29 {
		t.Fatalf("synced to %d, expect 29", c.LocalHeight())
	}
	if _, ok := store.ReadHeader(5); ok {
		t.Fatal("header below checkpoint fetched during sync")
	}
	hdr, ok := store.ReadHeader(11)
	if !ok || hdr.BlockHash() != chain[11].BlockHash() {
		t.Fatal("header 11 wrong")
	}

	if !c.RequestChunk(0) {
		t.Fatal("chunk request refused")
	}
	waitFor(t, "chunk 0", func() bool {
		_, ok := store.ReadHeader(5)
		return ok
	})
	waitFor(t, "chunk request to finish", func() bool {
		c.mtx.Lock()
		defer c.mtx.Unlock()
		return len(c.chunks) == 0
	})

	// a new block on top
	server.setChain(append(chain, makeHeaders(chain[29].BlockHash(), 1, 0)...))
	waitFor(t, "tip 30", func() bool { return c.LocalHeight() == 30 })
	if c.CurrentChain() != (spv.ChainRef{}) {
		t.Fatal("chain ref changed without a reorg")
	}
}

func TestFollowReorg(t *testing.T) {
	chain := makeHeaders(chainhash.Hash{}, 30, 0)
	c, server, store := newTestClient(t, chain, 10)
	if err := c.SyncHeaders(); err != nil {
		t.Fatal(err)
	}
	before := c.CurrentChain()

	fork := append([]*wire.BlockHeader{}, chain[:25]...)
	fork = append(fork, makeHeaders(chain[24].BlockHash(), 8, 1)...)
	server.setChain(fork)

	waitFor(t, "reorg to 32", func() bool { return c.LocalHeight() == 32 })
	after := c.CurrentChain()
	if after == before {
		t.Fatal("chain ref unchanged after reorg")
	}
	if h := store.DivergenceHeight(before, after); h != 25 {
		t.Fatalf("divergence %d, expect 25", h)
	}
	hdr, _ := store.ReadHeader(25)
	if hdr.BlockHash() != fork[25].BlockHash() {
		t.Fatal("header 25 not from the new chain")
	}
}

type fakeTxStore struct {
	mtx    sync.Mutex
	txs    map[chainhash.Hash]int32
	synced bool
}

func (f *fakeTxStore) AddTx(txid chainhash.Hash, height int32) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.txs[txid] = height
	return nil
}

func (f *fakeTxStore) SetSynced(synced bool) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.synced = synced
}

func (f *fakeTxStore) height(txid chainhash.Hash) int32 {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.txs[txid]
}

func TestSyncAddresses(t *testing.T) {
	c, server, _ := newTestClient(t, makeHeaders(chainhash.Hash{}, 1, 0), 0)

	pkh := bytes.Repeat([]byte{0x42}, 20)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkh, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	script := append([]byte{0x00, 0x14}, pkh...)
	sh := chainhash.HashH(script).String()
	got, err := ScriptHash(addr.EncodeAddress())
	if err != nil {
		t.Fatal(err)
	}
	if got != sh {
		t.Fatalf("script hash %s, expect %s", got, sh)
	}

	confirmed := chainhash.HashH([]byte("confirmed"))
	mempool := chainhash.HashH([]byte("mempool"))
	server.history[sh] = []HistoryItem{
		{TxHash: confirmed.String(), Height: 700},
		{TxHash: mempool.String(), Height: 0},
	}

	store := &fakeTxStore{txs: make(map[chainhash.Hash]int32)}
	if err := c.SyncAddresses(store, []string{addr.EncodeAddress()}); err != nil {
		t.Fatal(err)
	}
	if !store.synced {
		t.Fatal("wallet not marked synced")
	}
	if store.txs[confirmed] != 700 || store.txs[mempool] != 0 || len(store.txs) != 2 {
		t.Fatalf("wallet txs %v", store.txs)
	}

	store = &fakeTxStore{txs: make(map[chainhash.Hash]int32)}
	if err := c.SyncAddresses(store, []string{"notanaddress"}); err == nil {
		t.Fatal("bad address accepted")
	}
	if store.synced {
		t.Fatal("wallet synced after failure")
	}
}

func TestWatchAddressesResyncOnReorg(t *testing.T) {
	chain := makeHeaders(chainhash.Hash{}, 30, 0)
	c, server, _ := newTestClient(t, chain, 10)
	if err := c.SyncHeaders(); err != nil {
		t.Fatal(err)
	}

	pkh := bytes.Repeat([]byte{0x17}, 20)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkh, &chaincfg.TestNet3Params)
	if err != nil {
		t.Fatal(err)
	}
	sh, err := ScriptHash(addr.EncodeAddress())
	if err != nil {
		t.Fatal(err)
	}
	txid := chainhash.HashH([]byte("moves"))
	server.history[sh] = []HistoryItem{{TxHash: txid.String(), Height: 27}}

	store := &fakeTxStore{txs: make(map[chainhash.Hash]int32)}
	if err := c.WatchAddresses(store, []string{addr.EncodeAddress()}); err != nil {
		t.Fatal(err)
	}
	if store.height(txid) != 27 {
		t.Fatalf("tx at %d, expect 27", store.height(txid))
	}

	// a plain new tip doesn't resync
	extended := append(chain, makeHeaders(chain[29].BlockHash(), 1, 0)...)
	server.mtx.Lock()
	server.history[sh] = []HistoryItem{{TxHash: txid.String(), Height: 28}}
	calls := server.calls["blockchain.scripthash.get_history"]
	server.mtx.Unlock()
	server.setChain(extended)
	waitFor(t, "tip 30", func() bool { return c.LocalHeight() == 30 })
	server.mtx.Lock()
	if server.calls["blockchain.scripthash.get_history"] != calls {
		t.Error("history fetched without a reorg")
	}
	server.mtx.Unlock()

	// the reorg moves the tx to block 28
	fork := append([]*wire.BlockHeader{}, chain[:25]...)
	fork = append(fork, makeHeaders(chain[24].BlockHash(), 8, 1)...)
	server.setChain(fork)
	waitFor(t, "tx at its new height", func() bool {
		return store.height(txid) == 28
	})
}
