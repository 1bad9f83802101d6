package compress

// RawCodec copies payloads without compression. It backs the Raw wire
// method and level-0 compression requests.
type RawCodec struct{}

var _ Codec = RawCodec{}

// NewRawCodec creates a pass-through codec.
func NewRawCodec() RawCodec {
	return RawCodec{}
}

// Compress returns the input unchanged.
func (RawCodec) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns the input unchanged.
func (RawCodec) Decompress(data []byte) ([]byte, error) {
	return data, nil
}
