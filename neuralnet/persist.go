package neuralnet

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	persistMagic   = "GONN"
	persistVersion = uint32(1)
	maxHeaderSize  = 1 << 20
)

// networkHeader is the JSON description written ahead of the parameter
// matrices.
type networkHeader struct {
	Dims        []int            `json:"dims"`
	Activations []activationSpec `json:"activations"`
	Cost        string           `json:"cost"`
	Params      Params           `json:"params"`
	Steps       int              `json:"steps"`
}

type activationSpec struct {
	Name  string  `json:"name"`
	Alpha float64 `json:"alpha"`
}

// activation rebuilds the saved function. The stored alpha is used as is;
// the zero-alpha default only applies when parsing configuration.
func (s activationSpec) activation() (ActivationFunction, error) {
	if s.Name == ActivationLeakyReLU {
		return NewLeakyReLU(s.Alpha), nil
	}
	return ParseActivation(s.Name, 0)
}

func specOf(a ActivationFunction) (activationSpec, error) {
	name, err := ActivationName(a)
	if err != nil {
		return activationSpec{}, err
	}
	spec := activationSpec{Name: name}
	if l, ok := a.(LeakyReLU); ok {
		spec.Alpha = l.Alpha()
	}
	return spec, nil
}

// Save writes the full state of nn to w: topology, functions,
// hyperparameters, step count, and for every layer its weights, biases and
// Adam moments.
func Save(w io.Writer, nn *NeuralNetwork) error {
	costName, err := CostName(nn.cost)
	if err != nil {
		return err
	}
	header := networkHeader{
		Dims:   nn.Dims(),
		Cost:   costName,
		Params: nn.params,
		Steps:  nn.steps,
	}
	for i, l := range nn.layers {
		spec, err := specOf(l.activation)
		if err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
		header.Activations = append(header.Activations, spec)
	}
	raw, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "encoding header")
	}

	if _, err := io.WriteString(w, persistMagic); err != nil {
		return errors.Wrap(err, "writing magic")
	}
	if err := binary.Write(w, binary.LittleEndian, persistVersion); err != nil {
		return errors.Wrap(err, "writing version")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(raw))); err != nil {
		return errors.Wrap(err, "writing header length")
	}
	if _, err := w.Write(raw); err != nil {
		return errors.Wrap(err, "writing header")
	}

	for i, l := range nn.layers {
		for _, m := range []*mat.Dense{l.weights, l.mW, l.vW} {
			if _, err := m.MarshalBinaryTo(w); err != nil {
				return errors.Wrapf(err, "writing layer %d", i)
			}
		}
		for _, v := range []*mat.VecDense{l.biases, l.mB, l.vB} {
			if _, err := v.MarshalBinaryTo(w); err != nil {
				return errors.Wrapf(err, "writing layer %d", i)
			}
		}
	}
	return nil
}

// Load reads a network written by Save. Options apply as in
// NewNeuralNetwork; the generator is not part of the saved state.
func Load(r io.Reader, opts ...Option) (*NeuralNetwork, error) {
	magic := make([]byte, len(persistMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrap(err, "reading magic")
	}
	if string(magic) != persistMagic {
		return nil, errors.Errorf("not a saved network: magic %q", magic)
	}
	var version, size uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, errors.Wrap(err, "reading version")
	}
	if version != persistVersion {
		return nil, errors.Errorf("unsupported format version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, errors.Wrap(err, "reading header length")
	}
	if size > maxHeaderSize {
		return nil, errors.Errorf("header length %d exceeds %d bytes", size, maxHeaderSize)
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	var header networkHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, errors.Wrap(err, "decoding header")
	}

	nn, err := newFromHeader(header, opts)
	if err != nil {
		return nil, err
	}
	for i, l := range nn.layers {
		if err := l.readFrom(r); err != nil {
			return nil, errors.Wrapf(err, "reading layer %d", i)
		}
	}
	return nn, nil
}

func newFromHeader(h networkHeader, opts []Option) (*NeuralNetwork, error) {
	if len(h.Dims) < 2 || len(h.Activations) != len(h.Dims)-1 {
		return nil, errors.Wrapf(ErrInvalidConfig, "header has %d dims and %d activations", len(h.Dims), len(h.Activations))
	}
	for i := 1; i < len(h.Activations)-1; i++ {
		if h.Activations[i] != h.Activations[0] {
			return nil, errors.Wrapf(ErrInvalidConfig, "hidden layer %d activation %v differs from %v", i, h.Activations[i], h.Activations[0])
		}
	}
	activations := make([]ActivationFunction, len(h.Activations))
	for i, spec := range h.Activations {
		a, err := spec.activation()
		if err != nil {
			return nil, err
		}
		activations[i] = a
	}
	cost, err := ParseCost(h.Cost)
	if err != nil {
		return nil, err
	}
	hidden, output := activations[0], activations[len(activations)-1]
	if err := validateTopology(h.Dims, hidden, output, cost); err != nil {
		return nil, err
	}
	if err := h.Params.Validate(); err != nil {
		return nil, err
	}
	if h.Steps < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "step count %d", h.Steps)
	}

	nn := &NeuralNetwork{
		cost:      cost,
		params:    h.Params,
		softmaxCE: isSoftmaxCrossEntropy(output, cost),
		steps:     h.Steps,
	}
	for _, opt := range opts {
		opt(nn)
	}
	if nn.rng == nil {
		nn.rng = rand.New(rand.NewPCG(NNSeed(h.Dims), 0))
	}
	nn.layers = make([]*Layer, len(activations))
	for i, a := range activations {
		nn.layers[i] = newLayer(h.Dims[i], h.Dims[i+1], a, nn.rng)
	}
	return nn, nil
}

// readFrom replaces the layer parameters and moments with the ones in r.
func (l *Layer) readFrom(r io.Reader) error {
	in, out := l.InDim(), l.OutDim()
	dense := make([]*mat.Dense, 3)
	for i := range dense {
		var m mat.Dense
		if _, err := m.UnmarshalBinaryFrom(r); err != nil {
			return err
		}
		if rr, cc := m.Dims(); rr != in || cc != out {
			return errors.Wrapf(ErrDimensionMismatch, "matrix is %dx%d, want %dx%d", rr, cc, in, out)
		}
		dense[i] = &m
	}
	vecs := make([]*mat.VecDense, 3)
	for i := range vecs {
		var v mat.VecDense
		if _, err := v.UnmarshalBinaryFrom(r); err != nil {
			return err
		}
		if err := checkLen("vector", v.Len(), out); err != nil {
			return err
		}
		vecs[i] = &v
	}
	l.weights, l.mW, l.vW = dense[0], dense[1], dense[2]
	l.biases, l.mB, l.vB = vecs[0], vecs[1], vecs[2]
	return nil
}
