package checkpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Tensors and hyperparameters may hold NaN or ±Inf after a diverged step.
// JSON has no literal for them, so they are written as the strings "NaN",
// "+Inf" and "-Inf" and parsed back to the same values.

// floats is a float32 array that encodes non-finite elements as strings
type floats []float32

func (f floats) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	buf := make([]byte, 0, 2+len(f)*10)
	buf = append(buf, '[')
	for i, v := range f {
		if i > 0 {
			buf = append(buf, ',')
		}
		if finite(float64(v)) {
			buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
		} else {
			buf = strconv.AppendQuote(buf, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
	}
	return append(buf, ']'), nil
}

func (f *floats) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(floats, len(raw))
	for i, elem := range raw {
		v, err := parseFloatElem(elem)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	*f = out
	return nil
}

func parseFloatElem(elem json.RawMessage) (float64, error) {
	elem = bytes.TrimSpace(elem)
	switch {
	case bytes.Equal(elem, []byte("null")):
		return math.NaN(), nil
	case len(elem) > 0 && elem[0] == '"':
		var s string
		if err := json.Unmarshal(elem, &s); err != nil {
			return 0, err
		}
		v, ok := parseNonFinite(s)
		if !ok {
			return 0, fmt.Errorf("invalid number %q", s)
		}
		return v, nil
	default:
		return strconv.ParseFloat(string(elem), 32)
	}
}

// parseNonFinite accepts only the string forms of NaN and ±Inf
func parseNonFinite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || finite(v) {
		return 0, false
	}
	return v, true
}

// encodeParams copies params with non-finite floats replaced by strings
func encodeParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		switch n := v.(type) {
		case float64:
			if !finite(n) {
				v = strconv.FormatFloat(n, 'g', -1, 64)
			}
		case float32:
			if !finite(float64(n)) {
				v = strconv.FormatFloat(float64(n), 'g', -1, 32)
			}
		}
		out[k] = v
	}
	return out
}

// decodeParams turns the string forms written by encodeParams back into floats
func decodeParams(params map[string]interface{}) {
	for k, v := range params {
		if s, ok := v.(string); ok {
			if n, ok := parseNonFinite(s); ok {
				params[k] = n
			}
		}
	}
}

func (w WeightTensor) MarshalJSON() ([]byte, error) {
	type plain WeightTensor
	return json.Marshal(struct {
		plain
		Data floats `json:"data"`
	}{plain(w), w.Data})
}

func (w *WeightTensor) UnmarshalJSON(data []byte) error {
	type plain WeightTensor
	aux := struct {
		*plain
		Data floats `json:"data"`
	}{plain: (*plain)(w)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	w.Data = aux.Data
	return nil
}

func (t OptimizerTensor) MarshalJSON() ([]byte, error) {
	type plain OptimizerTensor
	return json.Marshal(struct {
		plain
		Data floats `json:"data"`
	}{plain(t), t.Data})
}

func (t *OptimizerTensor) UnmarshalJSON(data []byte) error {
	type plain OptimizerTensor
	aux := struct {
		*plain
		Data floats `json:"data"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Data = aux.Data
	return nil
}

func (s OptimizerState) MarshalJSON() ([]byte, error) {
	type plain OptimizerState
	p := plain(s)
	p.Parameters = encodeParams(s.Parameters)
	return json.Marshal(p)
}

func (s *OptimizerState) UnmarshalJSON(data []byte) error {
	type plain OptimizerState
	if err := json.Unmarshal(data, (*plain)(s)); err != nil {
		return err
	}
	decodeParams(s.Parameters)
	return nil
}

func (s SchedulerState) MarshalJSON() ([]byte, error) {
	type plain SchedulerState
	p := plain(s)
	p.Parameters = encodeParams(s.Parameters)
	return json.Marshal(p)
}

func (s *SchedulerState) UnmarshalJSON(data []byte) error {
	type plain SchedulerState
	if err := json.Unmarshal(data, (*plain)(s)); err != nil {
		return err
	}
	decodeParams(s.Parameters)
	return nil
}
