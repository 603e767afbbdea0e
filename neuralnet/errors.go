package neuralnet

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig reports a bad network, optimizer or trainer setting.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrDimensionMismatch reports a vector whose length does not match the
	// network it is fed to.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

func checkLen(what string, got, want int) error {
	if got != want {
		return errors.Wrapf(ErrDimensionMismatch, "%s has length %d, want %d", what, got, want)
	}
	return nil
}
