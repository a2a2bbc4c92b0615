// internal/neural/topology.go
// Serializable description of a sequential network

package neural

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidTopology = errors.New("invalid network topology")
)

// LayerKind names a layer type in the topology document
type LayerKind string

const (
	KindDense     LayerKind = "Dense"
	KindBatchNorm LayerKind = "BatchNormalization"
	KindDropout   LayerKind = "Dropout"
)

// Activation is the non-linearity applied by a dense layer
type Activation string

const (
	ActivationReLU    Activation = "relu"
	ActivationSigmoid Activation = "sigmoid"
	ActivationLinear  Activation = "linear"
)

// Regularizer adds l1·Σ|w| + l2·Σw² to the loss of a kernel
type Regularizer struct {
	L1 float64 `json:"l1,omitempty"`
	L2 float64 `json:"l2,omitempty"`
}

// L2 is a pure weight-decay regularizer
func L2(l2 float64) *Regularizer { return &Regularizer{L2: l2} }

// L1L2 combines both penalties
func L1L2(l1, l2 float64) *Regularizer { return &Regularizer{L1: l1, L2: l2} }

// LayerSpec is one layer of a sequential topology
type LayerSpec struct {
	Kind        LayerKind    `json:"class_name"`
	Name        string       `json:"name"`
	Units       int          `json:"units,omitempty"`
	Activation  Activation   `json:"activation,omitempty"`
	Regularizer *Regularizer `json:"kernel_regularizer,omitempty"`
	Rate        float64      `json:"rate,omitempty"`
	Momentum    float64      `json:"momentum,omitempty"`
	Epsilon     float64      `json:"epsilon,omitempty"`
}

// Dense declares a fully connected layer
func Dense(name string, units int, act Activation, reg *Regularizer) LayerSpec {
	return LayerSpec{Kind: KindDense, Name: name, Units: units, Activation: act, Regularizer: reg}
}

// BatchNorm declares a batch normalization layer with the usual defaults
func BatchNorm(name string) LayerSpec {
	return LayerSpec{Kind: KindBatchNorm, Name: name, Momentum: 0.99, Epsilon: 1e-3}
}

// Dropout declares an inverted dropout layer active only while fitting
func Dropout(name string, rate float64) LayerSpec {
	return LayerSpec{Kind: KindDropout, Name: name, Rate: rate}
}

// Topology is the architecture half of a persisted model
type Topology struct {
	Format   string      `json:"format"`
	InputDim int         `json:"input_dim"`
	Layers   []LayerSpec `json:"layers"`
}

const sequentialFormat = "sequential"

// Sequential builds a topology from an input width and an ordered layer list
func Sequential(inputDim int, layers ...LayerSpec) Topology {
	return Topology{Format: sequentialFormat, InputDim: inputDim, Layers: layers}
}

// ParseTopology decodes and validates a topology document
func ParseTopology(data []byte) (Topology, error) {
	var t Topology
	if err := json.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

// Marshal encodes the topology as JSON
func (t Topology) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// OutputDim is the width of the last dense layer
func (t Topology) OutputDim() int {
	dim := t.InputDim
	for _, l := range t.Layers {
		if l.Kind == KindDense {
			dim = l.Units
		}
	}
	return dim
}

// Validate checks the topology can be built
func (t Topology) Validate() error {
	if t.Format != sequentialFormat {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidTopology, t.Format)
	}
	if t.InputDim <= 0 {
		return fmt.Errorf("%w: input dim must be positive", ErrInvalidTopology)
	}
	if len(t.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidTopology)
	}

	names := make(map[string]struct{}, len(t.Layers))
	for i, l := range t.Layers {
		if l.Name == "" {
			return fmt.Errorf("%w: layer %d has no name", ErrInvalidTopology, i)
		}
		if _, dup := names[l.Name]; dup {
			return fmt.Errorf("%w: duplicate layer name %q", ErrInvalidTopology, l.Name)
		}
		names[l.Name] = struct{}{}

		switch l.Kind {
		case KindDense:
			if l.Units <= 0 {
				return fmt.Errorf("%w: layer %q needs positive units", ErrInvalidTopology, l.Name)
			}
			switch l.Activation {
			case ActivationReLU, ActivationSigmoid, ActivationLinear:
			default:
				return fmt.Errorf("%w: layer %q has unknown activation %q", ErrInvalidTopology, l.Name, l.Activation)
			}
		case KindBatchNorm:
			if l.Momentum < 0 || l.Momentum >= 1 || l.Epsilon <= 0 {
				return fmt.Errorf("%w: layer %q has invalid momentum or epsilon", ErrInvalidTopology, l.Name)
			}
		case KindDropout:
			if l.Rate < 0 || l.Rate >= 1 {
				return fmt.Errorf("%w: layer %q has dropout rate outside [0, 1)", ErrInvalidTopology, l.Name)
			}
		default:
			return fmt.Errorf("%w: layer %q has unknown kind %q", ErrInvalidTopology, l.Name, l.Kind)
		}
	}
	return nil
}
