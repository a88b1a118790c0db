package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/seantiz/beamlab/internal/model"
)

// Result vectors hold six values per node and compress well, so results are
// stored as zstd-compressed JSON.
var (
	resultEncoder *zstd.Encoder
	resultDecoder *zstd.Decoder
)

func init() {
	var err error
	resultEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	resultDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeResult(r *model.AnalysisResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return resultEncoder.EncodeAll(data, nil), nil
}

func decodeResult(blob []byte) (*model.AnalysisResult, error) {
	data, err := resultDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress result: %w", err)
	}
	var r model.AnalysisResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}
