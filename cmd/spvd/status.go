package main

import (
	"errors"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/mit-dci/spvd/spv"
	"github.com/mit-dci/spvd/walletdb"
)

type verifierView interface {
	IsUpToDate() bool
	Stats() spv.Stats
	MerkleRoot(txid chainhash.Hash) (chainhash.Hash, bool)
	IsRequested(txid chainhash.Hash) bool
	RemoveProof(txid chainhash.Hash)
}

type headerView interface {
	Height() int32
	CurrentChain() spv.ChainRef
}

type walletView interface {
	IsUpToDate() bool
	VerifiedTx(txid chainhash.Hash) (spv.TxInfo, bool)
	RemoveTx(txid chainhash.Hash) error
}

type statusResponse struct {
	UpToDate     bool   `json:"up_to_date"`
	WalletSynced bool   `json:"wallet_synced"`
	Requested    int    `json:"requested"`
	Verified     int    `json:"verified"`
	Height       int32  `json:"height"`
	ChainSerial  uint64 `json:"chain_serial"`
}

type txResponse struct {
	TxID       string `json:"txid"`
	Requested  bool   `json:"requested"`
	Verified   bool   `json:"verified"`
	MerkleRoot string `json:"merkle_root,omitempty"`
	Height     int32  `json:"height,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Pos        uint32 `json:"pos,omitempty"`
}

type statusHandler struct {
	verifier verifierView
	headers  headerView
	wallet   walletView
}

func newStatusRouter(v verifierView, h headerView, w walletView) *mux.Router {
	s := &statusHandler{verifier: v, headers: h, wallet: w}
	r := mux.NewRouter()
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)
	r.HandleFunc("/tx/{txid:[0-9a-fA-F]{64}}", s.tx).Methods(http.MethodGet)
	r.HandleFunc("/tx/{txid:[0-9a-fA-F]{64}}", s.removeTx).Methods(http.MethodDelete)
	return r
}

func (s *statusHandler) status(w http.ResponseWriter, r *http.Request) {
	stats := s.verifier.Stats()
	writeJSON(w, &statusResponse{
		UpToDate:     s.verifier.IsUpToDate(),
		WalletSynced: s.wallet.IsUpToDate(),
		Requested:    stats.Requested,
		Verified:     stats.Verified,
		Height:       s.headers.Height(),
		ChainSerial:  s.headers.CurrentChain().Serial,
	})
}

func (s *statusHandler) tx(w http.ResponseWriter, r *http.Request) {
	txid, err := chainhash.NewHashFromStr(mux.Vars(r)["txid"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := &txResponse{
		TxID:      txid.String(),
		Requested: s.verifier.IsRequested(*txid),
	}
	if root, ok := s.verifier.MerkleRoot(*txid); ok {
		resp.Verified = true
		resp.MerkleRoot = root.String()
		if info, ok := s.wallet.VerifiedTx(*txid); ok {
			resp.Height = info.Height
			resp.Timestamp = info.Timestamp
			resp.Pos = info.Pos
		}
	}
	writeJSON(w, resp)
}

// removeTx drops a tx from the wallet and then its proof, so a proof
// landing in between is ignored by the wallet and cleared here.
func (s *statusHandler) removeTx(w http.ResponseWriter, r *http.Request) {
	txid, err := chainhash.NewHashFromStr(mux.Vars(r)["txid"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.wallet.RemoveTx(*txid); err != nil {
		if errors.Is(err, walletdb.ErrUnknownTx) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Errorf("removing %v: %v", txid, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.verifier.RemoveProof(*txid)
	slog.Infof("Removed tx %v", txid)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Errorf("writing status: %v", err)
	}
}
