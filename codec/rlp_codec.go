package codec

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// RLPCodec is the canonical payload encoding. Payload structs are encoded as
// RLP lists in field order, so the smallest valid payload of every message
// type is fixed by its struct layout.
type RLPCodec struct{}

func (c *RLPCodec) Encode(v any) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

func (c *RLPCodec) Decode(data []byte, v any) error {
	return rlp.DecodeBytes(data, v)
}

func (c *RLPCodec) Type() CodecType {
	return CodecTypeRLP
}
