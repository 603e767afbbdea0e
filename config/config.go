// Package config reads training configurations from YAML and builds the
// network and trainer they describe.
package config

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"densenet/neuralnet"
)

// Config is the YAML document:
//
//	network:
//	  dims: [784, 128, 10]
//	  hidden_activation: leaky_relu
//	  output_activation: softmax
//	  cost: cross_entropy
//	params:
//	  learning_rate: 0.001
//	  l2: 0.0001
//	training:
//	  batch_size: 32
//	  epochs: 30
//	  validation_split: 0.1
type Config struct {
	Network  Network          `yaml:"network"`
	Params   neuralnet.Params `yaml:"params"`
	Training Training         `yaml:"training"`
}

type Network struct {
	Dims             []int  `yaml:"dims"`
	HiddenActivation string `yaml:"hidden_activation"`
	OutputActivation string `yaml:"output_activation"`
	// LeakyAlpha is the negative slope used by leaky_relu layers.
	LeakyAlpha float64 `yaml:"leaky_alpha"`
	Cost       string  `yaml:"cost"`
	// Seed drives weight initialization and dropout. Zero derives the seed
	// from Dims.
	Seed uint64 `yaml:"seed"`
}

type Training struct {
	BatchSize         int     `yaml:"batch_size"`
	Epochs            int     `yaml:"epochs"`
	ValidationSplit   float64 `yaml:"validation_split"`
	Patience          int     `yaml:"patience"`
	LearningRateDecay float64 `yaml:"learning_rate_decay"`
	// ShuffleSeed seeds the per-epoch shuffle. Zero keeps the trainer default.
	ShuffleSeed uint64 `yaml:"shuffle_seed"`
}

// Default returns the values used for keys a document leaves out.
func Default() Config {
	return Config{
		Network: Network{
			HiddenActivation: neuralnet.ActivationReLU,
			OutputActivation: neuralnet.ActivationSigmoid,
			LeakyAlpha:       neuralnet.DefaultLeakySlope,
			Cost:             neuralnet.CostMeanSquaredError,
		},
		Params: neuralnet.DefaultParams(),
		Training: Training{
			BatchSize:         32,
			Epochs:            10,
			ValidationSplit:   0.1,
			Patience:          neuralnet.DefaultPatience,
			LearningRateDecay: 1,
		},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	c, err := Parse(data)
	return c, errors.Wrapf(err, "config %s", path)
}

// Parse decodes a YAML document over Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding yaml")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks everything NewNetwork and NewTrainer would reject, plus
// the training loop arguments.
func (c *Config) Validate() error {
	hidden, output, cost, err := c.functions()
	if err != nil {
		return err
	}
	// Building the network validates dims, pairings and params.
	if _, err := neuralnet.NewNeuralNetwork(c.Network.Dims, hidden, output, cost, c.Params); err != nil {
		return err
	}
	t := c.Training
	switch {
	case t.BatchSize <= 0:
		return errors.Wrapf(neuralnet.ErrInvalidConfig, "batch size %d", t.BatchSize)
	case t.Epochs < 0:
		return errors.Wrapf(neuralnet.ErrInvalidConfig, "epochs %d", t.Epochs)
	case !(t.ValidationSplit >= 0 && t.ValidationSplit < 1):
		return errors.Wrapf(neuralnet.ErrInvalidConfig, "validation split %v outside [0, 1)", t.ValidationSplit)
	case t.Patience <= 0:
		return errors.Wrapf(neuralnet.ErrInvalidConfig, "patience %d", t.Patience)
	case !(t.LearningRateDecay > 0 && t.LearningRateDecay <= 1):
		return errors.Wrapf(neuralnet.ErrInvalidConfig, "learning rate decay %v outside (0, 1]", t.LearningRateDecay)
	}
	return nil
}

func (c *Config) functions() (hidden, output neuralnet.ActivationFunction, cost neuralnet.CostFunction, err error) {
	if hidden, err = neuralnet.ParseActivation(c.Network.HiddenActivation, c.Network.LeakyAlpha); err != nil {
		return nil, nil, nil, errors.Wrap(err, "hidden_activation")
	}
	if output, err = neuralnet.ParseActivation(c.Network.OutputActivation, c.Network.LeakyAlpha); err != nil {
		return nil, nil, nil, errors.Wrap(err, "output_activation")
	}
	if cost, err = neuralnet.ParseCost(c.Network.Cost); err != nil {
		return nil, nil, nil, errors.Wrap(err, "cost")
	}
	return hidden, output, cost, nil
}

// NewNetwork builds a freshly initialized network.
func (c *Config) NewNetwork() (*neuralnet.NeuralNetwork, error) {
	hidden, output, cost, err := c.functions()
	if err != nil {
		return nil, err
	}
	var opts []neuralnet.Option
	if c.Network.Seed != 0 {
		opts = append(opts, neuralnet.WithRand(rand.New(rand.NewPCG(c.Network.Seed, 0))))
	}
	return neuralnet.NewNeuralNetwork(c.Network.Dims, hidden, output, cost, c.Params, opts...)
}

// NewTrainer builds a trainer for model. opts are applied after the
// configured settings.
func (c *Config) NewTrainer(model neuralnet.Model, opts ...neuralnet.TrainerOption) (*neuralnet.Trainer, error) {
	base := []neuralnet.TrainerOption{
		neuralnet.WithPatience(c.Training.Patience),
		neuralnet.WithLearningRateDecay(c.Training.LearningRateDecay),
	}
	if c.Training.ShuffleSeed != 0 {
		base = append(base, neuralnet.WithTrainerRand(rand.New(rand.NewPCG(c.Training.ShuffleSeed, 0))))
	}
	return neuralnet.NewTrainer(model, append(base, opts...)...)
}

// Train builds a network and trainer and runs the configured training loop.
func (c *Config) Train(ctx context.Context, data []neuralnet.DataPoint, opts ...neuralnet.TrainerOption) (*neuralnet.NeuralNetwork, *neuralnet.TrainingMetrics, error) {
	nn, err := c.NewNetwork()
	if err != nil {
		return nil, nil, err
	}
	trainer, err := c.NewTrainer(nn, opts...)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := trainer.Train(ctx, data, c.Training.BatchSize, c.Training.Epochs, c.Training.ValidationSplit)
	return nn, metrics, err
}
