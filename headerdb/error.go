package headerdb

import (
	"errors"
	"fmt"
)

var (
	ErrDoesNotConnect = errors.New("headers do not connect")
	ErrBadHeight      = errors.New("invalid header height")
)

func errDoesNotConnect(height int32) error {
	return fmt.Errorf("%w: at height %d", ErrDoesNotConnect, height)
}

func errBadHeight(height int32) error {
	return fmt.Errorf("%w: %d", ErrBadHeight, height)
}
