//go:build !linux || !cgo

package output

// NewKeybd is only implemented on Linux.
func NewKeybd(onError func(error)) (*Keyboard, error) {
	return nil, ErrNotAvailable
}
