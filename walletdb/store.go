package walletdb

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mit-dci/spvd/spv"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ spv.Wallet = (*Store)(nil)

// Store is the wallet's transaction store. Every tx is either unverified,
// with the height the server last reported for it, or verified with the
// block info from its proof. Verified records are kept in memory until
// SaveVerifiedTx writes them out; everything else is written through.
type Store struct {
	mtx sync.RWMutex
	db  *leveldb.DB

	unverified map[chainhash.Hash]int32
	verified   map[chainhash.Hash]spv.TxInfo
	// verified but not yet written
	dirty  map[chainhash.Hash]struct{}
	synced bool
}

// Open opens or creates the wallet db at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return New(db)
}

// New loads a store from an already open db.
func New(db *leveldb.DB) (*Store, error) {
	s := &Store{
		db:         db,
		unverified: make(map[chainhash.Hash]int32),
		verified:   make(map[chainhash.Hash]spv.TxInfo),
		dirty:      make(map[chainhash.Hash]struct{}),
	}

	iter := db.NewIterator(util.BytesPrefix([]byte{unverifiedPrefix}), nil)
	for iter.Next() {
		var txid chainhash.Hash
		copy(txid[:], iter.Key()[1:])
		if len(iter.Value()) != 4 {
			iter.Release()
			return nil, errCorruptRecord(iter.Key(),
				fmt.Errorf("height is %d bytes", len(iter.Value())))
		}
		s.unverified[txid] = int32(binary.BigEndian.Uint32(iter.Value()))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}

	iter = db.NewIterator(util.BytesPrefix([]byte{verifiedPrefix}), nil)
	for iter.Next() {
		var txid chainhash.Hash
		copy(txid[:], iter.Key()[1:])
		info, err := decodeTxInfo(iter.Value())
		if err != nil {
			iter.Release()
			return nil, errCorruptRecord(iter.Key(), err)
		}
		s.verified[txid] = info
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}

	log.Infof("Loaded %d unverified and %d verified txs",
		len(s.unverified), len(s.verified))
	return s, nil
}

// Close closes the underlying db. Unsaved verifications are lost.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddTx records txid at the height the server reported, <= 0 for
// unconfirmed. A verified tx reported at a different height goes back to
// being unverified.
func (s *Store) AddTx(txid chainhash.Hash, height int32) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if info, ok := s.verified[txid]; ok {
		if info.Height == height {
			return nil
		}
		log.Debugf("tx %v moved from height %d to %d", txid, info.Height, height)
	}

	var batch leveldb.Batch
	batch.Delete(txKey(verifiedPrefix, txid))
	batch.Put(txKey(unverifiedPrefix, txid), encodeHeight(height))
	if err := s.db.Write(&batch, nil); err != nil {
		return err
	}
	delete(s.verified, txid)
	delete(s.dirty, txid)
	s.unverified[txid] = height
	return nil
}

// RemoveTx deletes txid from the wallet.
func (s *Store) RemoveTx(txid chainhash.Hash) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	_, unv := s.unverified[txid]
	_, ver := s.verified[txid]
	if !unv && !ver {
		return errUnknownTx(txid)
	}

	var batch leveldb.Batch
	batch.Delete(txKey(unverifiedPrefix, txid))
	batch.Delete(txKey(verifiedPrefix, txid))
	if err := s.db.Write(&batch, nil); err != nil {
		return err
	}
	delete(s.unverified, txid)
	delete(s.verified, txid)
	delete(s.dirty, txid)
	return nil
}

// ListUnverified returns a copy of the unverified txs and their heights.
func (s *Store) ListUnverified() map[chainhash.Hash]int32 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	m := make(map[chainhash.Hash]int32, len(s.unverified))
	for txid, height := range s.unverified {
		m[txid] = height
	}
	return m
}

// AddVerifiedTx marks txid verified. It is written out by the next
// SaveVerifiedTx. A tx that is no longer unverified in the wallet, e.g.
// removed while its proof was in flight, is ignored.
func (s *Store) AddVerifiedTx(txid chainhash.Hash, info spv.TxInfo) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.unverified[txid]; !ok {
		log.Debugf("ignoring verification of %v, not in wallet", txid)
		return
	}

	delete(s.unverified, txid)
	s.verified[txid] = info
	s.dirty[txid] = struct{}{}
	log.Debugf("tx %v verified at height %d pos %d", txid, info.Height, info.Pos)
}

// VerifiedTx returns the verification info for txid.
func (s *Store) VerifiedTx(txid chainhash.Hash) (spv.TxInfo, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	info, ok := s.verified[txid]
	return info, ok
}

// UndoVerifications moves every tx verified at or above height back to
// unverified, at the height it was verified at, and returns them.
func (s *Store) UndoVerifications(chain spv.ChainRef, height int32) []chainhash.Hash {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var batch leveldb.Batch
	var undone []chainhash.Hash
	for txid, info := range s.verified {
		if info.Height < height {
			continue
		}
		batch.Delete(txKey(verifiedPrefix, txid))
		batch.Put(txKey(unverifiedPrefix, txid), encodeHeight(info.Height))
		undone = append(undone, txid)
	}
	if len(undone) == 0 {
		return nil
	}
	if err := s.db.Write(&batch, nil); err != nil {
		// memory stays authoritative
		log.Errorf("undoing verifications on chain %d: %v", chain.Serial, err)
	}
	for _, txid := range undone {
		s.unverified[txid] = s.verified[txid].Height
		delete(s.verified, txid)
		delete(s.dirty, txid)
	}
	log.Infof("Undid %d verifications at or above height %d", len(undone), height)
	return undone
}

// SetSynced sets whether the tx list is in sync with the server.
func (s *Store) SetSynced(synced bool) {
	s.mtx.Lock()
	s.synced = synced
	s.mtx.Unlock()
}

// IsUpToDate reports whether the tx list is in sync with the server.
func (s *Store) IsUpToDate() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.synced
}

// SaveVerifiedTx writes out verifications made since the last save.
func (s *Store) SaveVerifiedTx() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if len(s.dirty) == 0 {
		return nil
	}
	var batch leveldb.Batch
	for txid := range s.dirty {
		batch.Delete(txKey(unverifiedPrefix, txid))
		batch.Put(txKey(verifiedPrefix, txid), encodeTxInfo(s.verified[txid]))
	}
	if err := s.db.Write(&batch, nil); err != nil {
		return err
	}
	log.Debugf("Saved %d verified txs", len(s.dirty))
	s.dirty = make(map[chainhash.Hash]struct{})
	return nil
}
