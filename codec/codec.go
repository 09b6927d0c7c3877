package codec

import (
	"errors"
	"fmt"
	"strings"
)

type CodecType byte

const (
	CodecTypeRLP  CodecType = 0
	CodecTypeJSON CodecType = 1
)

var ErrUnknownCodec = errors.New("codec: unknown codec")

// Codec encodes message payloads. Both peers of a connection must use the
// same codec; the frame does not carry it.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=RLP, 1=JSON
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &RLPCodec{}
}

// ParseCodecType maps a config value to a CodecType. Empty selects RLP.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "rlp":
		return CodecTypeRLP, nil
	case "json":
		return CodecTypeJSON, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeRLP:
		return "rlp"
	case CodecTypeJSON:
		return "json"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}
