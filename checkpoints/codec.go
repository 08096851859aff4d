package checkpoints

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec converts the canonical JSON form of a checkpoint to and from its
// on-disk bytes.
type Codec interface {
	Encode(doc []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// CodecFor returns the codec used for the format
func CodecFor(format CheckpointFormat) (Codec, error) {
	switch format {
	case FormatJSON:
		return jsonCodec{}, nil
	case FormatJSONZstd:
		return &zstdCodec{}, nil
	case FormatProto:
		return protoCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", format.String())
	}
}

type jsonCodec struct{}

func (jsonCodec) Encode(doc []byte) ([]byte, error) { return doc, nil }
func (jsonCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// zstdCodec compresses the JSON document. Encoder and decoder are created
// lazily and reused for every call through EncodeAll/DecodeAll.
type zstdCodec struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

func (c *zstdCodec) init() {
	c.once.Do(func() {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			c.initErr = fmt.Errorf("failed to create zstd encoder: %w", err)
			return
		}
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			c.initErr = fmt.Errorf("failed to create zstd decoder: %w", err)
			return
		}
		c.encoder = encoder
		c.decoder = decoder
	})
}

func (c *zstdCodec) Encode(doc []byte) ([]byte, error) {
	c.init()
	if c.initErr != nil {
		return nil, c.initErr
	}
	return c.encoder.EncodeAll(doc, make([]byte, 0, len(doc)/4)), nil
}

func (c *zstdCodec) Decode(data []byte) ([]byte, error) {
	c.init()
	if c.initErr != nil {
		return nil, c.initErr
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress checkpoint: %w", err)
	}
	return out, nil
}

// protoCodec stores the document as a google.protobuf.Struct in binary wire format
type protoCodec struct{}

func (protoCodec) Encode(doc []byte) ([]byte, error) {
	var st structpb.Struct
	if err := protojson.Unmarshal(doc, &st); err != nil {
		return nil, fmt.Errorf("failed to convert checkpoint to struct: %w", err)
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(&st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint proto: %w", err)
	}
	return data, nil
}

func (protoCodec) Decode(data []byte) ([]byte, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint proto: %w", err)
	}
	doc, err := protojson.Marshal(&st)
	if err != nil {
		return nil, fmt.Errorf("failed to convert struct to JSON: %w", err)
	}
	return doc, nil
}
