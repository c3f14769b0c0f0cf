package metricspb

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
	"google.golang.org/grpc/encoding"
)

// gogoCodec marshals with gogo/protobuf's reflection-based proto.Marshal
// rather than grpc-go's default codec (which expects the newer
// google.golang.org/protobuf API). These messages rely on gogo's
// struct-tag reflection path, so the service registers this codec in
// place of grpc's default.
type gogoCodec struct{}

func (gogoCodec) Name() string { return "proto" }

func (gogoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("metricspb: %T does not implement gogo proto.Message", v)
	}
	return proto.Marshal(m)
}

func (gogoCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("metricspb: %T does not implement gogo proto.Message", v)
	}
	return proto.Unmarshal(data, m)
}

func init() {
	encoding.RegisterCodec(gogoCodec{})
}
