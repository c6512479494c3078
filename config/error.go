package config

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidNetwork = errors.New("Invalid/not supported net flag given")
	ErrInvalidTxArg   = errors.New("Invalid tx argument, want txid:height")
)

func errInvalidNetwork(nType string) error {
	return fmt.Errorf("%w: %s", ErrInvalidNetwork, nType)
}

func errInvalidTxArg(arg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidTxArg, arg)
}
