package headerdb

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/mit-dci/spvd/spv"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const headerPrefix = 'h'

var _ spv.Headers = (*Store)(nil)

// Store keeps block headers by height in leveldb and tracks which chain
// they belong to. Each time headers already stored are replaced by different
// ones the chain serial goes up and the height of the first replaced header
// is remembered for it.
type Store struct {
	mtx sync.RWMutex
	db  *leveldb.DB

	tip    int32
	serial uint64
	base   chainhash.Hash
	forks  map[uint64]int32
}

// Open opens or creates the header db at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return New(db)
}

// New makes a store on an already open db.
func New(db *leveldb.DB) (*Store, error) {
	s := &Store{
		db:    db,
		forks: make(map[uint64]int32),
	}

	iter := db.NewIterator(util.BytesPrefix([]byte{headerPrefix}), nil)
	if iter.Last() {
		s.tip = int32(binary.BigEndian.Uint32(iter.Key()[1:]))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}
	log.Infof("Loaded headers up to height %d", s.tip)
	return s, nil
}

// Close closes the underlying db.
func (s *Store) Close() error {
	return s.db.Close()
}

func headerKey(height int32) []byte {
	k := make([]byte, 5)
	k[0] = headerPrefix
	binary.BigEndian.PutUint32(k[1:], uint32(height))
	return k
}

// readHeader needs mtx held.
func (s *Store) readHeader(height int32) (*wire.BlockHeader, bool) {
	if height <= 0 || height > s.tip {
		return nil, false
	}
	b, err := s.db.Get(headerKey(height), nil)
	if err != nil {
		if err != leveldb.ErrNotFound {
			log.Errorf("reading header %d: %v", height, err)
		}
		return nil, false
	}
	var hdr wire.BlockHeader
	if err := hdr.Deserialize(bytes.NewReader(b)); err != nil {
		log.Errorf("decoding header %d: %v", height, err)
		return nil, false
	}
	return &hdr, true
}

// ReadHeader returns the header at height.
func (s *Store) ReadHeader(height int32) (*wire.BlockHeader, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.readHeader(height)
}

// Height returns the height of the highest stored header, 0 if none.
func (s *Store) Height() int32 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.tip
}

// CurrentChain returns the ref for the chain the stored headers are on.
func (s *Store) CurrentChain() spv.ChainRef {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return spv.ChainRef{Base: s.base, Serial: s.serial}
}

// DivergenceHeight returns the lowest fork height recorded between the two
// refs. If there was none the chains agree on every stored header and
// the height above the tip is returned.
func (s *Store) DivergenceHeight(oldChain, newChain spv.ChainRef) int32 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	height := s.tip + 1
	for serial := oldChain.Serial + 1; serial <= newChain.Serial; serial++ {
		if h, ok := s.forks[serial]; ok && h < height {
			height = h
		}
	}
	return height
}

// PutHeaders stores hdrs at heights start, start+1, ... The first header
// must connect to the stored header below start, if there is one. If any
// stored header gets replaced, everything above the new headers is dropped
// and the chain serial is bumped. The genesis header is never stored.
func (s *Store) PutHeaders(start int32, hdrs []*wire.BlockHeader) error {
	if start < 0 {
		return errBadHeight(start)
	}
	if start == 0 && len(hdrs) > 0 {
		hdrs = hdrs[1:]
		start = 1
	}
	if len(hdrs) == 0 {
		return nil
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if prev, ok := s.readHeader(start - 1); ok {
		if hdrs[0].PrevBlock != prev.BlockHash() {
			return errDoesNotConnect(start)
		}
	}

	var batch leveldb.Batch
	var buf bytes.Buffer
	fork := int32(-1)
	for i, hdr := range hdrs {
		height := start + int32(i)
		if i > 0 && hdr.PrevBlock != hdrs[i-1].BlockHash() {
			return errDoesNotConnect(height)
		}
		if fork < 0 {
			if old, ok := s.readHeader(height); ok &&
				old.BlockHash() != hdr.BlockHash() {
				fork = height
			}
		}
		buf.Reset()
		if err := hdr.Serialize(&buf); err != nil {
			return err
		}
		batch.Put(headerKey(height), buf.Bytes())
	}

	end := start + int32(len(hdrs)) - 1
	if fork >= 0 {
		// what's above came from the old chain
		for h := end + 1; h <= s.tip; h++ {
			batch.Delete(headerKey(h))
		}
	}
	if err := s.db.Write(&batch, nil); err != nil {
		return err
	}

	if fork >= 0 {
		s.tip = end
		s.serial++
		s.forks[s.serial] = fork
		s.base = hdrs[fork-start].BlockHash()
		log.Infof("Chain reorganized at height %d, now at %d (%v)",
			fork, end, hdrs[len(hdrs)-1].BlockHash())
	} else if end > s.tip {
		s.tip = end
	}
	log.Debugf("Stored %d headers from %d, tip %d", len(hdrs), start, s.tip)
	return nil
}
