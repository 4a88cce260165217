// Package compression abstracts the codec used for locally persisted blobs.
package compression

type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Noop stores blobs as-is. Useful in tests and when inspecting slots by hand.
type Noop struct{}

func (Noop) Compress(data []byte) ([]byte, error)   { return data, nil }
func (Noop) Decompress(data []byte) ([]byte, error) { return data, nil }
