package walletdb

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	ErrUnknownTx     = errors.New("tx not in wallet")
	ErrCorruptRecord = errors.New("corrupt wallet record")
)

func errUnknownTx(txid chainhash.Hash) error {
	return fmt.Errorf("%w: %v", ErrUnknownTx, txid)
}

func errCorruptRecord(key []byte, s error) error {
	return fmt.Errorf("%w: key %x: %v", ErrCorruptRecord, key, s)
}
