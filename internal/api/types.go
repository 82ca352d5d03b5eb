package api

import (
	"github.com/samcharles93/tinycnn/internal/model"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// InferRequest is the JSON body of the inference routes. Strategy may also
// be given as the ?strategy= query parameter; the body wins.
type InferRequest struct {
	Input    []float32 `json:"input"`
	Strategy string    `json:"strategy,omitempty"`
}

type InferResponse struct {
	ID        string             `json:"id"`
	Layer     *int               `json:"layer,omitempty"`
	Strategy  string             `json:"strategy"`
	Shape     tensor.Shape       `json:"shape"`
	Output    []float32          `json:"output"`
	Top       []model.Prediction `json:"top,omitempty"`
	ElapsedMS float64            `json:"elapsed_ms"`
}

type LayerInfo struct {
	Index      int          `json:"index"`
	Kind       string       `json:"kind"`
	Input      tensor.Shape `json:"input"`
	Output     tensor.Shape `json:"output"`
	Weight     tensor.Shape `json:"weight,omitempty"`
	Bias       tensor.Shape `json:"bias,omitempty"`
	Activation bool         `json:"activation"`
	ParamBytes int          `json:"param_bytes"`
}

type ModelInfo struct {
	Name       string      `json:"name"`
	Strategy   string      `json:"default_strategy"`
	Layers     []LayerInfo `json:"layers"`
	ParamBytes int         `json:"param_bytes"`
}

type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
