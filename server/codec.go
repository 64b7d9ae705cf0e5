package server

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// The request and response types are plain structs rather than generated
// protobuf messages, so both transports carry them with these codecs. The
// method sets satisfy grpc's encoding.Codec and connect.Codec alike.

const cborCodecName = "cbor"

type cborCodec struct{}

func (cborCodec) Name() string { return cborCodecName }

func (cborCodec) Marshal(v any) ([]byte, error) { return cbor.Marshal(v) }

func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func init() {
	encoding.RegisterCodec(cborCodec{})
}
