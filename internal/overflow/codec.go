package overflow

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Header describes how a stored blob was encoded so a payload can be
// decoded without out-of-band knowledge.
type Header struct {
	Codec        string `json:"codec"` // "zstd" or "raw"
	OriginalSize int    `json:"original_size"`
	Version      int    `json:"version"`
}

const (
	codecZstd = "zstd"
	codecRaw  = "raw"

	headerVersion = 1

	// rawThreshold skips compression for payloads too small to benefit.
	rawThreshold = 64
)

// codec compresses and decompresses overflow payloads. One codec is
// shared per storage instance; the zstd writer/reader are stateless in
// the Encode/Decode forms and safe for concurrent use.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

// Compress encodes data and returns the body plus its JSON header. Small
// payloads are stored raw.
func (c *codec) Compress(data []byte) (body []byte, header []byte, err error) {
	h := Header{Codec: codecZstd, OriginalSize: len(data), Version: headerVersion}
	if len(data) < rawThreshold {
		h.Codec = codecRaw
		body = data
	} else {
		body = c.enc.EncodeAll(data, nil)
		// Compression can inflate already-dense payloads.
		if len(body) >= len(data) {
			h.Codec = codecRaw
			body = data
		}
	}
	header, err = json.Marshal(h)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal header: %w", err)
	}
	return body, header, nil
}

// Decompress decodes a stored body using its header.
func (c *codec) Decompress(body, header []byte) ([]byte, error) {
	var h Header
	if err := json.Unmarshal(header, &h); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	switch h.Codec {
	case codecRaw:
		return body, nil
	case codecZstd:
		out, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", h.Codec)
	}
}

func (c *codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
