package model

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/tinycnn/internal/layer"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// TensorSpec names one parameter tensor of a layer.
type TensorSpec struct {
	Dims   []int  `yaml:"dims"`
	Source string `yaml:"source"`
}

func (t *TensorSpec) params() tensor.Params {
	if t == nil {
		return tensor.Params{}
	}
	return tensor.NewParams(tensor.Shape(t.Dims), t.Source)
}

// LayerSpec describes one pipeline stage.
type LayerSpec struct {
	Name   string      `yaml:"name,omitempty"`
	Kind   string      `yaml:"kind"`
	Input  []int       `yaml:"input"`
	Output []int       `yaml:"output"`
	Weight *TensorSpec `yaml:"weight,omitempty"`
	Bias   *TensorSpec `yaml:"bias,omitempty"`
	// Activation toggles ReLU on dense layers. Unset means enabled.
	Activation *bool `yaml:"activation,omitempty"`
}

// Spec is a network description as stored in YAML.
type Spec struct {
	Name   string      `yaml:"name"`
	Layers []LayerSpec `yaml:"layers"`
	// Golden is the index of the per-layer golden file that holds the final
	// output. It defaults to the last layer.
	Golden *int `yaml:"golden,omitempty"`
}

//go:embed toy.yaml
var toyYAML []byte

// ToySpec returns the built-in 13-layer image classifier: three conv/conv/pool
// blocks, flatten, two dense layers and softmax over 200 classes.
func ToySpec() (*Spec, error) {
	return ParseSpec(toyYAML)
}

// ParseSpec decodes a YAML network description.
func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse network: %w", err)
	}
	if len(s.Layers) == 0 {
		return nil, fmt.Errorf("parse network %q: no layers", s.Name)
	}
	if s.Golden != nil && (*s.Golden < 1 || *s.Golden >= len(s.Layers)) {
		return nil, fmt.Errorf("parse network %q: golden index %d outside [1, %d)", s.Name, *s.Golden, len(s.Layers))
	}
	return &s, nil
}

// LoadSpec reads a network description. The name "toy" (or an empty name)
// selects the built-in network; anything else is a YAML file path.
func LoadSpec(name string) (*Spec, error) {
	if name == "" || strings.EqualFold(name, "toy") {
		return ToySpec()
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read network: %w", err)
	}
	return ParseSpec(data)
}

// Marshal encodes s as YAML.
func (s *Spec) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// GoldenIndex is the layer index whose golden file holds the final output.
func (s *Spec) GoldenIndex() int {
	if s.Golden != nil {
		return *s.Golden
	}
	return len(s.Layers) - 1
}

// InputParams describes the network input.
func (s *Spec) InputParams() tensor.Params {
	return tensor.NewParams(tensor.Shape(s.Layers[0].Input), "")
}

// Tensors lists every weight and bias descriptor in pipeline order.
func (s *Spec) Tensors() []tensor.Params {
	var out []tensor.Params
	for _, ls := range s.Layers {
		if ls.Weight != nil {
			out = append(out, ls.Weight.params())
		}
		if ls.Bias != nil {
			out = append(out, ls.Bias.params())
		}
	}
	return out
}

// Build constructs a model from the description. Parameter sources are left
// as written; the tensor.Source passed to AllocateAll resolves them.
func (s *Spec) Build(h Hooks) (*Model, error) {
	m := New(h)
	for i, ls := range s.Layers {
		kind, err := layer.ParseKind(ls.Kind)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		activation := ls.Activation == nil || *ls.Activation
		in := tensor.NewParams(tensor.Shape(ls.Input), "")
		out := tensor.NewParams(tensor.Shape(ls.Output), "")
		if err := m.AddLayer(kind, in, out, ls.Weight.params(), ls.Bias.params(), activation); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Toy builds the built-in network.
func Toy(h Hooks) (*Model, error) {
	s, err := ToySpec()
	if err != nil {
		return nil, err
	}
	return s.Build(h)
}
