package neuralnet

import (
	"fmt"
	"io"
)

// EpochMetrics is the scalar summary of one epoch. Epoch 0 is the baseline
// measured before any training.
type EpochMetrics struct {
	Epoch              int     `json:"epoch"`
	TrainCost          float64 `json:"train_cost"`
	ValidationCost     float64 `json:"validation_cost"`
	TrainAccuracy      float64 `json:"train_accuracy"`
	ValidationAccuracy float64 `json:"validation_accuracy"`
}

// MetricsSink receives one EpochMetrics per epoch. Sinks never see the
// network itself.
type MetricsSink interface {
	RecordEpoch(m EpochMetrics) error
}

// TrainingMetrics accumulates the per-epoch series of one Train call.
type TrainingMetrics struct {
	Epochs []EpochMetrics
	// StoppedEarly is set when validation cost stopped improving before the
	// epoch budget ran out.
	StoppedEarly bool
}

func (tm *TrainingMetrics) RecordEpoch(m EpochMetrics) error {
	tm.Epochs = append(tm.Epochs, m)
	return nil
}

// Len returns the number of recorded epochs, baseline included.
func (tm *TrainingMetrics) Len() int {
	return len(tm.Epochs)
}

func (tm *TrainingMetrics) TrainingCost() []float64 {
	return tm.series(func(m EpochMetrics) float64 { return m.TrainCost })
}

func (tm *TrainingMetrics) ValidationCost() []float64 {
	return tm.series(func(m EpochMetrics) float64 { return m.ValidationCost })
}

func (tm *TrainingMetrics) TrainingAccuracy() []float64 {
	return tm.series(func(m EpochMetrics) float64 { return m.TrainAccuracy })
}

func (tm *TrainingMetrics) ValidationAccuracy() []float64 {
	return tm.series(func(m EpochMetrics) float64 { return m.ValidationAccuracy })
}

func (tm *TrainingMetrics) series(f func(EpochMetrics) float64) []float64 {
	out := make([]float64, len(tm.Epochs))
	for i, m := range tm.Epochs {
		out[i] = f(m)
	}
	return out
}

// PrintSink writes one line per epoch to W.
type PrintSink struct {
	W io.Writer
}

func (s PrintSink) RecordEpoch(m EpochMetrics) error {
	_, err := fmt.Fprintf(s.W, "Epoch %d: train cost=%.5f validation cost=%.5f train accuracy=%.3f validation accuracy=%.3f\n",
		m.Epoch, m.TrainCost, m.ValidationCost, m.TrainAccuracy, m.ValidationAccuracy)
	return err
}
