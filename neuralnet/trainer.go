package neuralnet

import (
	"context"
	"io"
	"log"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// DefaultPatience is the number of epochs without a validation improvement
// after which training stops.
const DefaultPatience = 5

// Model is what a Trainer drives. *NeuralNetwork implements it.
type Model interface {
	ForwardPropagate(inputs []float64, training bool) ([]float64, error)
	BackPropagate(inputs, expectedOutputs []float64) error
	UpdateWeightsAndBiases(batchSize, step int) error
	Cost(expected, predicted []float64) float64
	Steps() int
}

// learningRateScheduler is implemented by models whose learning rate the
// trainer may decay between epochs.
type learningRateScheduler interface {
	LearningRate() float64
	SetLearningRate(lr float64)
}

// Augmenter returns the variant of p used for one training pass. It must
// not change vector lengths.
type Augmenter func(p DataPoint) DataPoint

// Trainer runs mini-batch training with a validation split and early
// stopping.
type Trainer struct {
	model    Model
	augment  Augmenter
	sinks    []MetricsSink
	patience int
	lrDecay  float64
	rng      *rand.Rand
	log      *log.Logger
}

type TrainerOption func(*Trainer)

func WithAugmenter(a Augmenter) TrainerOption {
	return func(t *Trainer) {
		t.augment = a
	}
}

// WithSinks adds sinks that receive every epoch's metrics.
func WithSinks(sinks ...MetricsSink) TrainerOption {
	return func(t *Trainer) {
		t.sinks = append(t.sinks, sinks...)
	}
}

func WithPatience(patience int) TrainerOption {
	return func(t *Trainer) {
		t.patience = patience
	}
}

// WithLearningRateDecay multiplies the model's learning rate by decay after
// every epoch. 1 disables decay.
func WithLearningRateDecay(decay float64) TrainerOption {
	return func(t *Trainer) {
		t.lrDecay = decay
	}
}

// WithTrainerRand sets the generator used to shuffle training data.
func WithTrainerRand(rng *rand.Rand) TrainerOption {
	return func(t *Trainer) {
		t.rng = rng
	}
}

func WithLogger(l *log.Logger) TrainerOption {
	return func(t *Trainer) {
		t.log = l
	}
}

func NewTrainer(model Model, opts ...TrainerOption) (*Trainer, error) {
	if model == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil model")
	}
	t := &Trainer{
		model:    model,
		patience: DefaultPatience,
		lrDecay:  1,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.patience <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "patience %d", t.patience)
	}
	if !(t.lrDecay > 0 && t.lrDecay <= 1) {
		return nil, errors.Wrapf(ErrInvalidConfig, "learning rate decay %v outside (0, 1]", t.lrDecay)
	}
	if t.rng == nil {
		t.rng = defaultRand()
	}
	if t.log == nil {
		t.log = log.New(io.Discard, "", 0)
	}
	return t, nil
}

// SplitData keeps the first (1-ratio) share of data for training and the
// rest for validation. Order is preserved; nothing is shuffled.
func SplitData(data []DataPoint, ratio float64) (train, validation []DataPoint, err error) {
	if !(ratio >= 0 && ratio <= 1) {
		return nil, nil, errors.Wrapf(ErrInvalidConfig, "split ratio %v outside [0, 1]", ratio)
	}
	testSize := int(float64(len(data)) * ratio)
	trainSize := len(data) - testSize
	return data[:trainSize:trainSize], data[trainSize:], nil
}

// CreateMiniBatches partitions data into consecutive batches of batchSize.
// The last batch may be short.
func CreateMiniBatches(data []DataPoint, batchSize int) ([][]DataPoint, error) {
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "batch size %d", batchSize)
	}
	batches := make([][]DataPoint, 0, (len(data)+batchSize-1)/batchSize)
	for start := 0; start < len(data); start += batchSize {
		end := min(start+batchSize, len(data))
		batches = append(batches, data[start:end:end])
	}
	return batches, nil
}

// Train trains the model for up to numEpochs epochs. The returned metrics
// start with the epoch 0 baseline. ctx is checked between batches; on
// cancellation the metrics gathered so far are returned with ctx's error.
// A failing sink does not stop training; its first error is returned once
// training ends.
func (t *Trainer) Train(ctx context.Context, data []DataPoint, batchSize, numEpochs int, testSplitRatio float64) (*TrainingMetrics, error) {
	if numEpochs < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "epoch count %d", numEpochs)
	}
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "batch size %d", batchSize)
	}
	trainData, validationData, err := SplitData(data, testSplitRatio)
	if err != nil {
		return nil, err
	}
	if len(trainData) == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "training split is empty")
	}

	metrics := &TrainingMetrics{}
	var sinkErr error
	record := func(m EpochMetrics) {
		metrics.Epochs = append(metrics.Epochs, m)
		for _, s := range t.sinks {
			if err := s.RecordEpoch(m); err != nil && sinkErr == nil {
				sinkErr = errors.Wrapf(err, "recording epoch %d", m.Epoch)
			}
		}
	}

	baseline := EpochMetrics{}
	if baseline.TrainCost, baseline.TrainAccuracy, err = t.EvaluateModel(trainData); err != nil {
		return nil, err
	}
	if baseline.ValidationCost, baseline.ValidationAccuracy, err = t.EvaluateModel(validationData); err != nil {
		return nil, err
	}
	record(baseline)

	bestCost := baseline.ValidationCost
	epochsWithoutImprovement := 0

	order := append([]DataPoint(nil), trainData...)
	for epoch := 1; epoch <= numEpochs; epoch++ {
		t.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
		batches, err := CreateMiniBatches(order, batchSize)
		if err != nil {
			return metrics, err
		}

		var totalCost float64
		numCorrect := 0
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				t.log.Printf("training cancelled in epoch %d", epoch)
				return metrics, errors.Wrapf(err, "epoch %d", epoch)
			}
			cost, correct, err := t.trainBatch(batch)
			if err != nil {
				return metrics, errors.Wrapf(err, "epoch %d", epoch)
			}
			totalCost += cost
			numCorrect += correct
		}

		if t.lrDecay != 1 {
			if s, ok := t.model.(learningRateScheduler); ok {
				s.SetLearningRate(s.LearningRate() * t.lrDecay)
			}
		}

		m := EpochMetrics{
			Epoch:         epoch,
			TrainCost:     totalCost / float64(len(order)),
			TrainAccuracy: float64(numCorrect) / float64(len(order)),
		}
		if m.ValidationCost, m.ValidationAccuracy, err = t.EvaluateModel(validationData); err != nil {
			return metrics, err
		}
		record(m)

		if len(validationData) == 0 {
			continue
		}
		if m.ValidationCost < bestCost {
			bestCost = m.ValidationCost
			epochsWithoutImprovement = 0
		} else {
			epochsWithoutImprovement++
		}
		if epochsWithoutImprovement >= t.patience {
			t.log.Printf("early stopping after epoch %d: validation cost %.5f, best %.5f", epoch, m.ValidationCost, bestCost)
			metrics.StoppedEarly = true
			break
		}
	}
	return metrics, sinkErr
}

// trainBatch runs forward and backward passes for every point of batch and
// then one optimizer step. It returns the summed cost and the number of
// correctly classified points.
func (t *Trainer) trainBatch(batch []DataPoint) (float64, int, error) {
	var cost float64
	correct := 0
	for _, point := range batch {
		if t.augment != nil {
			augmented := t.augment(point)
			if augmented.InputSize() != point.InputSize() || augmented.OutputSize() != point.OutputSize() {
				return 0, 0, errors.Wrapf(ErrDimensionMismatch, "augmenter changed vector lengths from %d/%d to %d/%d",
					point.InputSize(), point.OutputSize(), augmented.InputSize(), augmented.OutputSize())
			}
			point = augmented
		}
		outputs, err := t.model.ForwardPropagate(point.inputs, true)
		if err != nil {
			return 0, 0, err
		}
		if err := t.model.BackPropagate(point.inputs, point.outputs); err != nil {
			return 0, 0, err
		}
		cost += t.model.Cost(point.outputs, outputs)
		if sameLabel(outputs, point.outputs) {
			correct++
		}
	}
	if err := t.model.UpdateWeightsAndBiases(len(batch), t.model.Steps()+1); err != nil {
		return 0, 0, err
	}
	return cost, correct, nil
}

// EvaluateModel runs inference over data and returns the mean cost and the
// share of points whose largest output matches the expected label. Empty
// data evaluates to zero cost and zero accuracy.
func (t *Trainer) EvaluateModel(data []DataPoint) (cost, accuracy float64, err error) {
	if len(data) == 0 {
		return 0, 0, nil
	}
	numCorrect := 0
	for i, point := range data {
		outputs, err := t.model.ForwardPropagate(point.inputs, false)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "evaluating point %d", i)
		}
		if len(outputs) != len(point.outputs) {
			return 0, 0, errors.Wrapf(ErrDimensionMismatch, "point %d expects %d outputs, model produced %d", i, len(point.outputs), len(outputs))
		}
		cost += t.model.Cost(point.outputs, outputs)
		if sameLabel(outputs, point.outputs) {
			numCorrect++
		}
	}
	n := float64(len(data))
	return cost / n, float64(numCorrect) / n, nil
}

// sameLabel reports whether predicted and expected share their argmax.
func sameLabel(predicted, expected []float64) bool {
	if len(predicted) == 0 || len(predicted) != len(expected) {
		return false
	}
	return floats.MaxIdx(predicted) == floats.MaxIdx(expected)
}
