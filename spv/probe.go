package spv

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// TxProbe reports whether a byte string decodes as a transaction.
type TxProbe func(b []byte) bool

// LooksLikeTx returns true if b is a complete serialized transaction, in
// either the legacy or the segwit encoding, with no bytes left over.
// Malformed input just returns false.
func LooksLikeTx(b []byte) bool {
	return decodesFully(b, false) || decodesFully(b, true)
}

func decodesFully(b []byte, witness bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	var tx wire.MsgTx
	r := bytes.NewReader(b)
	var err error
	if witness {
		err = tx.Deserialize(r)
	} else {
		err = tx.DeserializeNoWitness(r)
	}
	return err == nil && r.Len() == 0
}
