package server

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// jsonCodec implements grpc's encoding.Codec over JSON. It stands in for a
// protoc-generated proto codec (see server.go's package doc comment): the
// request/response types here are plain structs with json tags rather than
// generated protobuf messages, so the wire format is JSON instead of the
// protobuf binary format. Installed on the server via grpc.ForceServerCodec,
// which bypasses grpc-go's content-subtype-based codec lookup entirely.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CodecOption returns the grpc.ServerOption that installs jsonCodec as the
// server's wire codec in place of the default proto codec.
func CodecOption() grpc.ServerOption {
	return grpc.ForceServerCodec(jsonCodec{})
}
