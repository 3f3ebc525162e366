package encoder

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEmptyCalls         = errors.New("no calls to encode")
	ErrUnsupportedVariant = errors.New("unsupported pool variant")
	ErrNotSimulated       = errors.New("swap line has no successful simulation")
	ErrBadPayload         = errors.New("payload is not an aggregate call")
)

// EncodingError reports which hop of a path could not be encoded. Hop is -1
// when the failure is not tied to a hop, such as an empty call list.
type EncodingError struct {
	Hop  int
	Pool common.Address
	Err  error
}

func (e *EncodingError) Error() string {
	if e.Hop < 0 {
		return fmt.Sprintf("encode calls: %v", e.Err)
	}
	return fmt.Sprintf("encode hop %d (%s): %v", e.Hop, e.Pool.Hex(), e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }
