package checkpoints

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestCheckpointFormatString(t *testing.T) {
	tests := []struct {
		format    CheckpointFormat
		expected  string
		extension string
	}{
		{FormatJSON, "JSON", "json"},
		{FormatJSONZstd, "JSON+zstd", "json.zst"},
		{FormatProto, "Proto", "pb"},
		{CheckpointFormat(99), "Unknown", "json"},
	}

	for _, tt := range tests {
		if got := tt.format.String(); got != tt.expected {
			t.Errorf("Format %d: expected %s, got %s", int(tt.format), tt.expected, got)
		}
		if got := tt.format.Extension(); got != tt.extension {
			t.Errorf("Format %d: expected extension %s, got %s", int(tt.format), tt.extension, got)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    CheckpointFormat
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"zstd", FormatJSONZstd, false},
		{"proto", FormatProto, false},
		{"onnx", FormatJSON, true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseFormat(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestBestModeImproves(t *testing.T) {
	best, nan, inf := 0.5, math.NaN(), math.Inf(-1)
	tests := []struct {
		name      string
		mode      BestMode
		candidate float64
		best      *float64
		want      bool
	}{
		{"min_no_best", BestMin, 10, nil, true},
		{"min_lower", BestMin, 0.4, &best, true},
		{"min_equal", BestMin, 0.5, &best, false},
		{"min_higher", BestMin, 0.6, &best, false},
		{"max_higher", BestMax, 0.6, &best, true},
		{"max_equal", BestMax, 0.5, &best, false},
		{"max_lower", BestMax, 0.4, &best, false},
		{"min_nan_best", BestMin, 0.6, &nan, true},
		{"min_inf_best", BestMin, 0.6, &inf, true},
		{"max_nan_best", BestMax, 0.1, &nan, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mode.Improves(tt.candidate, tt.best); got != tt.want {
				t.Errorf("Improves(%v) = %v, want %v", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestCodecsPreserveDocument(t *testing.T) {
	doc := []byte(`{"epoch":3,"global_step":42,"model":[{"name":"w","shape":[2],"data":[0.5,-1.25]}],"stats":{"best_result":null}}`)

	for _, format := range []CheckpointFormat{FormatJSON, FormatJSONZstd, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			codec, err := CodecFor(format)
			if err != nil {
				t.Fatalf("CodecFor failed: %v", err)
			}
			encoded, err := codec.Encode(doc)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if format != FormatJSON && bytes.Equal(encoded, doc) {
				t.Error("expected encoded bytes to differ from JSON")
			}
			decoded, err := codec.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			loaded, err := decodeDocument(decoded)
			if err != nil {
				t.Fatalf("decodeDocument failed: %v", err)
			}
			if loaded.RawWeights {
				t.Fatal("document with model key decoded as raw weights")
			}
			if loaded.Epoch != 3 || loaded.GlobalStep == nil || *loaded.GlobalStep != 42 {
				t.Errorf("unexpected epoch/step: %d %v", loaded.Epoch, loaded.GlobalStep)
			}
			if len(loaded.Model) != 1 || loaded.Model[0].Data[1] != -1.25 {
				t.Errorf("unexpected model: %+v", loaded.Model)
			}
		})
	}
}

func TestStatsClone(t *testing.T) {
	best := 1.5
	s := NewStats()
	s.Loss = append(s.Loss, 1, 2)
	s.Checkpoints = append(s.Checkpoints, "a")
	s.BestResult = &best

	c := s.Clone()
	c.Loss[0] = 100
	c.Checkpoints[0] = "b"
	*c.BestResult = 0

	if s.Loss[0] != 1 || s.Checkpoints[0] != "a" || *s.BestResult != 1.5 {
		t.Errorf("clone shares memory with original: %+v", s)
	}

	if _, ok := NewStats().LastResult(); ok {
		t.Error("empty stats should have no last result")
	}
}

func TestStatsJSONNonFinite(t *testing.T) {
	best := 0.25
	s := NewStats()
	s.Loss = []float64{1.5, math.NaN(), math.Inf(1)}
	s.Results = []float64{0.25}
	s.BestResult = &best

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"loss":[1.5,null,null]`) {
		t.Errorf("non-finite values not encoded as null: %s", data)
	}
	if !strings.Contains(string(data), `"valid_loss":[]`) {
		t.Errorf("empty slice should stay empty: %s", data)
	}

	var back Stats
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Loss) != 3 || back.Loss[0] != 1.5 || !math.IsNaN(back.Loss[1]) || !math.IsNaN(back.Loss[2]) {
		t.Errorf("unexpected loss: %v", back.Loss)
	}
	if back.ValidLoss == nil || len(back.ValidLoss) != 0 {
		t.Errorf("unexpected valid loss: %v", back.ValidLoss)
	}
	if back.BestResult == nil || *back.BestResult != 0.25 || back.Results[0] != 0.25 {
		t.Errorf("unexpected results: %v %v", back.Results, back.BestResult)
	}
	if back.Checkpoints == nil {
		t.Error("checkpoints should decode as an empty list")
	}
}
