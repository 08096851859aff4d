// Package sdfnet is a small auto-decoder for a single shape: a learned latent
// code and a Fourier embedding of the query point feed a ReLU MLP with one
// skip connection and a tanh output.
package sdfnet

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/tsawler/go-sdf/tensor"
	"github.com/tsawler/go-sdf/training"
)

// Config describes the network and its loss
type Config struct {
	LatentDim int `koanf:"latent_dim" yaml:"latent_dim"`
	HiddenDim int `koanf:"hidden_dim" yaml:"hidden_dim"`
	NumLayers int `koanf:"num_layers" yaml:"num_layers"`
	SkipLayer int `koanf:"skip_layer" yaml:"skip_layer"` // layer whose input is re-concatenated with [z, γ(x)]
	NumFreqs  int `koanf:"num_freqs" yaml:"num_freqs"`

	ClampDist      float64 `koanf:"clamp_dist" yaml:"clamp_dist"`
	LatentReg      float64 `koanf:"latent_reg" yaml:"latent_reg"`
	DataLossWeight float64 `koanf:"data_loss_weight" yaml:"data_loss_weight"`
	RegLossWeight  float64 `koanf:"reg_loss_weight" yaml:"reg_loss_weight"`
}

// DefaultConfig returns the 8x512 network with a 256-wide latent code
func DefaultConfig() Config {
	return Config{
		LatentDim:      256,
		HiddenDim:      512,
		NumLayers:      8,
		SkipLayer:      4,
		NumFreqs:       6,
		ClampDist:      0.2,
		LatentReg:      0.1,
		DataLossWeight: 1,
		RegLossWeight:  1,
	}
}

// Validate checks the layer layout
func (c Config) Validate() error {
	if c.LatentDim < 0 {
		return fmt.Errorf("latent dim cannot be negative, got %d", c.LatentDim)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("hidden dim must be positive, got %d", c.HiddenDim)
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("num layers must be positive, got %d", c.NumLayers)
	}
	if c.NumFreqs <= 0 {
		return fmt.Errorf("num freqs must be positive, got %d", c.NumFreqs)
	}
	if c.ClampDist <= 0 {
		return fmt.Errorf("clamp dist must be positive, got %f", c.ClampDist)
	}
	return nil
}

// EmbedDim is the width of the Fourier embedding
func (c Config) EmbedDim() int { return 3 * 2 * c.NumFreqs }

// linear is a dense layer y = x Wᵀ + b with W stored [out, in]
type linear struct {
	in, out int
	weight  *tensor.Parameter
	bias    *tensor.Parameter
}

func newLinear(name string, in, out int, rng *rand.Rand) *linear {
	l := &linear{
		in:     in,
		out:    out,
		weight: tensor.NewParameter(name+".weight", out, in),
		bias:   tensor.NewParameter(name+".bias", out),
	}
	// Kaiming uniform for ReLU
	bound := math.Sqrt(6 / float64(in))
	for i := range l.weight.Data {
		l.weight.Data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return l
}

// forward computes y for a batch of n rows
func (l *linear) forward(x []float32, n int) []float32 {
	y := make([]float32, n*l.out)
	w, b := l.weight.Data, l.bias.Data
	for r := 0; r < n; r++ {
		row := x[r*l.in : (r+1)*l.in]
		for o := 0; o < l.out; o++ {
			wo := w[o*l.in : (o+1)*l.in]
			sum := b[o]
			for i, v := range row {
				sum += v * wo[i]
			}
			y[r*l.out+o] = sum
		}
	}
	return y
}

// backward accumulates weight and bias gradients and returns dL/dx
func (l *linear) backward(x, dy []float32, n int) []float32 {
	dx := make([]float32, n*l.in)
	w, gw, gb := l.weight.Data, l.weight.Grad, l.bias.Grad
	for r := 0; r < n; r++ {
		row := x[r*l.in : (r+1)*l.in]
		drow := dx[r*l.in : (r+1)*l.in]
		for o := 0; o < l.out; o++ {
			d := dy[r*l.out+o]
			if d == 0 {
				continue
			}
			gb[o] += d
			wo := w[o*l.in : (o+1)*l.in]
			gwo := gw[o*l.in : (o+1)*l.in]
			for i, v := range row {
				gwo[i] += d * v
				drow[i] += d * wo[i]
			}
		}
	}
	return dx
}

// Network implements training.Model
type Network struct {
	cfg     Config
	z       *tensor.Parameter
	linears []*linear
	final   *linear
	freqs   []float32
}

// New builds a network with weights drawn from rng
func New(cfg Config, rng *rand.Rand) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}

	n := &Network{cfg: cfg, z: tensor.NewParameter("z", 1, cfg.LatentDim)}
	for i := range n.z.Data {
		n.z.Data[i] = float32(rng.NormFloat64() * 0.01)
	}

	head := cfg.LatentDim + cfg.EmbedDim()
	in := head
	for i := 0; i < cfg.NumLayers; i++ {
		if i == cfg.SkipLayer {
			in += head
		}
		n.linears = append(n.linears, newLinear(fmt.Sprintf("linears.%d", i), in, cfg.HiddenDim, rng))
		in = cfg.HiddenDim
	}
	n.final = newLinear("final", cfg.HiddenDim, 1, rng)

	for k := 0; k < cfg.NumFreqs; k++ {
		n.freqs = append(n.freqs, float32(math.Ldexp(math.Pi, k)))
	}
	return n, nil
}

// Config returns the configuration the network was built with
func (n *Network) Config() Config { return n.cfg }

// Parameters returns z followed by the layers in order
func (n *Network) Parameters() []*tensor.Parameter {
	params := []*tensor.Parameter{n.z}
	for _, l := range n.linears {
		params = append(params, l.weight, l.bias)
	}
	return append(params, n.final.weight, n.final.bias)
}

// embed writes γ(p) = [sin(2^k π p), cos(2^k π p)] per axis into dst
func (n *Network) embed(dst []float32, p [3]float32) {
	K := len(n.freqs)
	for a := 0; a < 3; a++ {
		base := a * 2 * K
		for k, f := range n.freqs {
			s, c := math.Sincos(float64(p[a] * f))
			dst[base+k] = float32(s)
			dst[base+K+k] = float32(c)
		}
	}
}

// pass holds the activations of one forward pass
type pass struct {
	rows   int
	head   []float32   // [z, γ(x)] per row
	inputs [][]float32 // input of each hidden layer
	hidden []float32   // output of the last hidden layer
	out    []float32   // tanh output
}

func (n *Network) forward(points [][3]float32) *pass {
	rows := len(points)
	L, E := n.cfg.LatentDim, n.cfg.EmbedDim()
	width := L + E

	p := &pass{rows: rows, head: make([]float32, rows*width)}
	for r, pt := range points {
		row := p.head[r*width : (r+1)*width]
		copy(row, n.z.Data)
		n.embed(row[L:], pt)
	}

	h := p.head
	for i, l := range n.linears {
		if i == n.cfg.SkipLayer && i > 0 {
			h = concatRows(h, p.head, rows)
		}
		p.inputs = append(p.inputs, h)
		h = l.forward(h, rows)
		for j, v := range h {
			if v < 0 {
				h[j] = 0
			}
		}
	}
	p.hidden = h

	p.out = n.final.forward(h, rows)
	for j, v := range p.out {
		p.out[j] = float32(math.Tanh(float64(v)))
	}
	return p
}

// concatRows joins a and b row by row
func concatRows(a, b []float32, rows int) []float32 {
	wa, wb := len(a)/rows, len(b)/rows
	out := make([]float32, 0, len(a)+len(b))
	for r := 0; r < rows; r++ {
		out = append(out, a[r*wa:(r+1)*wa]...)
		out = append(out, b[r*wb:(r+1)*wb]...)
	}
	return out
}

// Query evaluates the network at points. It only reads the parameters and
// may be called concurrently.
func (n *Network) Query(ctx context.Context, points [][3]float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return []float32{}, nil
	}
	return n.forward(points).out, nil
}

// Loss returns the weighted data and latent terms for preds against truths
func (n *Network) Loss(preds, truths []float32) (data, reg float64) {
	c := n.cfg.ClampDist
	for i := range preds {
		data += math.Abs(clamp(float64(preds[i]), c) - clamp(float64(truths[i]), c))
	}
	if len(preds) > 0 {
		data /= float64(len(preds))
	}
	for _, v := range n.z.Data {
		reg += float64(v) * float64(v)
	}
	return n.cfg.DataLossWeight * data, n.cfg.RegLossWeight * n.cfg.LatentReg * reg
}

func clamp(v, c float64) float64 {
	return math.Max(-c, math.Min(c, v))
}

// Step runs the forward pass and the loss on batch. In training mode the
// gradients of the loss times opts.LossScale are added to every parameter.
func (n *Network) Step(ctx context.Context, batch *training.Batch, opts training.StepOptions) (*training.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if batch == nil || batch.Len() == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if len(batch.SDF) != batch.Len() {
		return nil, fmt.Errorf("batch has %d points but %d sdf values", batch.Len(), len(batch.SDF))
	}

	p := n.forward(batch.Points)
	data, reg := n.Loss(p.out, batch.SDF)
	res := &training.StepResult{
		Preds:  p.out,
		Truths: batch.SDF,
		Loss:   data + reg,
		Terms:  map[string]float64{"data_loss": data, "reg_loss": reg},
	}
	if opts.Train {
		scale := opts.LossScale
		if scale == 0 {
			scale = 1
		}
		n.backward(p, batch.SDF, scale)
	}
	return res, nil
}

func (n *Network) backward(p *pass, truths []float32, scale float64) {
	rows := p.rows
	c := n.cfg.ClampDist
	L, E := n.cfg.LatentDim, n.cfg.EmbedDim()
	width := L + E

	// d|clamp(pred) - clamp(gt)| / d pred, through tanh
	dOut := make([]float32, rows)
	k := scale * n.cfg.DataLossWeight / float64(rows)
	for r, y := range p.out {
		pred := float64(y)
		if pred < -c || pred > c {
			continue
		}
		diff := pred - clamp(float64(truths[r]), c)
		var sign float64
		switch {
		case diff > 0:
			sign = 1
		case diff < 0:
			sign = -1
		}
		dOut[r] = float32(k * sign * (1 - pred*pred))
	}

	dh := n.final.backward(p.hidden, dOut, rows)
	dHead := make([]float32, rows*width)
	h := p.hidden
	for i := len(n.linears) - 1; i >= 0; i-- {
		for j, v := range h {
			if v <= 0 {
				dh[j] = 0
			}
		}
		in := p.inputs[i]
		dIn := n.linears[i].backward(in, dh, rows)

		if i == n.cfg.SkipLayer && i > 0 {
			prev := len(in)/rows - width
			next := make([]float32, rows*prev)
			for r := 0; r < rows; r++ {
				copy(next[r*prev:(r+1)*prev], dIn[r*(prev+width):r*(prev+width)+prev])
				addTo(dHead[r*width:(r+1)*width], dIn[r*(prev+width)+prev:(r+1)*(prev+width)])
			}
			dIn = next
		}
		if i == 0 {
			addTo(dHead, dIn)
			break
		}
		dh = dIn
		h = p.inputs[i]
		if i == n.cfg.SkipLayer {
			// the skip input carries the previous layer's output in front
			prev := len(h)/rows - width
			trimmed := make([]float32, rows*prev)
			for r := 0; r < rows; r++ {
				copy(trimmed[r*prev:(r+1)*prev], h[r*(prev+width):r*(prev+width)+prev])
			}
			h = trimmed
		}
	}

	// z is broadcast to every row; the embedding has no parameters
	gz := n.z.Grad
	for r := 0; r < rows; r++ {
		addTo(gz, dHead[r*width:r*width+L])
	}
	regScale := float32(scale * n.cfg.RegLossWeight * n.cfg.LatentReg * 2)
	for i, v := range n.z.Data {
		gz[i] += regScale * v
	}
}

func addTo(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}
