package protocol

import (
	"reflect"

	"github.com/near/borsh-go"
	"github.com/sugawarayuuta/sonnet"
)

// Serializer defines the contract for serializing and deserializing command payloads.
// Instruction params use Borsh on the wire; JSON is available for tooling and
// for the envelope itself.
type Serializer interface {
	// Marshal serializes a Go struct (e.g. BatchUpdateParams) into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a Go struct.
	// v must be a pointer to the target struct.
	Unmarshal(data []byte, v any) error
}

// BorshSerializer encodes little-endian fixed-width integers, Option<T> as a
// one-byte presence flag followed by the value, and Vec<T> as a u32 length
// followed by the elements.
type BorshSerializer struct{}

func (BorshSerializer) Marshal(v any) ([]byte, error) {
	return borsh.Serialize(v)
}

func (BorshSerializer) Unmarshal(data []byte, v any) error {
	if err := borsh.Deserialize(v, data); err != nil {
		return err
	}
	return clearAbsentOptions(reflect.ValueOf(v).Elem(), data)
}

// DefaultJSONSerializer encodes with sonnet, a drop-in encoding/json replacement.
type DefaultJSONSerializer struct{}

func (DefaultJSONSerializer) Marshal(v any) ([]byte, error) {
	return sonnet.Marshal(v)
}

func (DefaultJSONSerializer) Unmarshal(data []byte, v any) error {
	return sonnet.Unmarshal(data, v)
}
