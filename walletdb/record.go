package walletdb

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mit-dci/spvd/common"
	"github.com/mit-dci/spvd/spv"
)

const (
	unverifiedPrefix = 'u'
	verifiedPrefix   = 'v'

	// height, timestamp, pos
	verifiedRecordSize = 4 + 8 + 4
)

func txKey(prefix byte, txid chainhash.Hash) []byte {
	k := make([]byte, 1+chainhash.HashSize)
	k[0] = prefix
	copy(k[1:], txid[:])
	return k
}

func encodeHeight(height int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(height))
	return b
}

func encodeTxInfo(info spv.TxInfo) []byte {
	fb := common.NewFreeBytes()
	defer fb.Free()

	var buf bytes.Buffer
	buf.Grow(verifiedRecordSize)
	// writes to a bytes.Buffer don't fail
	_ = fb.PutUint32(&buf, binary.BigEndian, uint32(info.Height))
	_ = fb.PutUint64(&buf, binary.BigEndian, uint64(info.Timestamp))
	_ = fb.PutUint32(&buf, binary.BigEndian, info.Pos)
	return buf.Bytes()
}

func decodeTxInfo(b []byte) (info spv.TxInfo, err error) {
	fb := common.NewFreeBytes()
	defer fb.Free()

	r := bytes.NewReader(b)
	height, err := fb.Uint32(r, binary.BigEndian)
	if err != nil {
		return
	}
	ts, err := fb.Uint64(r, binary.BigEndian)
	if err != nil {
		return
	}
	info.Pos, err = fb.Uint32(r, binary.BigEndian)
	if err != nil {
		return
	}
	info.Height = int32(height)
	info.Timestamp = int64(ts)
	return
}
