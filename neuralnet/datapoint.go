package neuralnet

// DataPoint is one training example: a flat input vector and the expected
// output vector (one-hot for classification). It is immutable once built.
type DataPoint struct {
	inputs  []float64
	outputs []float64
}

// NewDataPoint copies inputs and outputs into a new DataPoint.
func NewDataPoint(inputs, outputs []float64) DataPoint {
	return DataPoint{
		inputs:  append([]float64(nil), inputs...),
		outputs: append([]float64(nil), outputs...),
	}
}

// Inputs returns a copy of the input vector.
func (p DataPoint) Inputs() []float64 {
	return append([]float64(nil), p.inputs...)
}

// Outputs returns a copy of the expected output vector.
func (p DataPoint) Outputs() []float64 {
	return append([]float64(nil), p.outputs...)
}

func (p DataPoint) InputSize() int {
	return len(p.inputs)
}

func (p DataPoint) OutputSize() int {
	return len(p.outputs)
}
