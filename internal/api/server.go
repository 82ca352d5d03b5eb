// Package api exposes an allocated model over HTTP.
package api

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/tinycnn/internal/layer"
	"github.com/samcharles93/tinycnn/internal/logger"
	"github.com/samcharles93/tinycnn/internal/model"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// DefaultMaxBodyBytes bounds request bodies. It fits the built-in network's
// 64x64x3 input as JSON text with room to spare.
const DefaultMaxBodyBytes = 8 << 20

const mimeOctetStream = "application/octet-stream"

type Config struct {
	Name     string
	Strategy layer.Strategy
	// RateLimit is the sustained number of inference requests per second.
	// Zero disables limiting.
	RateLimit float64
	Burst     int
	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	Logger       logger.Logger
}

// Server serves inference requests against one model. The model must stay
// allocated while the server runs; requests are executed one at a time
// because every layer owns a single set of buffers.
type Server struct {
	cfg     Config
	mu      sync.Mutex
	m       *model.Model
	limiter *rate.Limiter
	log     logger.Logger
	clock   func() time.Time
}

func NewServer(m *model.Model, cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Name == "" {
		cfg.Name = "model"
	}
	s := &Server{cfg: cfg, m: m, log: cfg.Logger, clock: time.Now}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if cfg.RateLimit > 0 {
		burst := max(cfg.Burst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/infer", s.handleInfer)
	e.POST("/v1/layers/:index/infer", s.handleLayerInfer)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModel(c *echo.Context) error {
	info := ModelInfo{
		Name:       s.cfg.Name,
		Strategy:   s.cfg.Strategy.String(),
		ParamBytes: s.m.ParamBytes(),
		Layers:     make([]LayerInfo, 0, s.m.Len()),
	}
	for i := 0; i < s.m.Len(); i++ {
		l, _ := s.m.LayerInfo(i)
		li := LayerInfo{
			Index:      i,
			Kind:       l.Kind.String(),
			Input:      l.Input.Dims(),
			Output:     l.Output.Dims(),
			Activation: l.Activation,
			ParamBytes: l.ParamBytes,
		}
		if l.Kind.HasParams() {
			li.Weight = l.Weight.Dims()
			li.Bias = l.Bias.Dims()
		}
		info.Layers = append(info.Layers, li)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleInfer(c *echo.Context) error {
	in, err := s.m.InputParams()
	if err != nil {
		return writeComputeError(c, err)
	}
	return s.serve(c, -1, in)
}

func (s *Server) handleLayerInfer(c *echo.Context) error {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("layer index %q is not an integer", c.Param("index")))
	}
	l, err := s.m.LayerInfo(idx)
	if err != nil {
		return writeComputeError(c, err)
	}
	return s.serve(c, idx, l.Input)
}

// serve decodes the input for params p, runs the whole model (idx < 0) or
// one layer and writes the result.
func (s *Server) serve(c *echo.Context, idx int, p tensor.Params) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many inference requests")
	}
	in, strategy, err := s.decodeInput(c, p)
	if err != nil {
		return writeComputeError(c, err)
	}
	top, err := topParam(c)
	if err != nil {
		return writeComputeError(c, err)
	}

	id := uuid.NewString()
	log := s.log.With("id", id, "strategy", strategy)

	s.mu.Lock()
	start := s.clock()
	var out *tensor.Buffer
	if idx < 0 {
		out, err = s.m.RunInference(in, strategy)
	} else {
		out, err = s.m.RunLayer(in, idx, strategy)
	}
	var data []float32
	var shape tensor.Shape
	if err == nil {
		data = slices.Clone(out.Data())
		shape = out.Shape()
	}
	elapsed := s.clock().Sub(start)
	s.mu.Unlock()

	if err != nil {
		log.Warn("inference failed", "error", err)
		return writeComputeError(c, err)
	}
	for i, v := range data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return writeError(c, http.StatusUnprocessableEntity, "numeric_error", fmt.Sprintf("output[%d] is not finite", i))
		}
	}
	log.Info("inference", "layer", idx, "elapsed", elapsed)

	resp := InferResponse{
		ID:        id,
		Strategy:  strategy.String(),
		Shape:     shape,
		Output:    data,
		Top:       model.Top(data, top),
		ElapsedMS: float64(elapsed.Microseconds()) / 1000,
	}
	if idx >= 0 {
		resp.Layer = &idx
	}
	return c.JSON(http.StatusOK, resp)
}

// decodeInput accepts either a JSON InferRequest or a raw native-endian
// float32 blob with Content-Type application/octet-stream.
func (s *Server) decodeInput(c *echo.Context, p tensor.Params) (*tensor.Buffer, layer.Strategy, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, 0, newInvalidRequest(fmt.Sprintf("read body: %v", err))
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		return nil, 0, newInvalidRequest(fmt.Sprintf("body exceeds %d bytes", s.cfg.MaxBodyBytes))
	}

	strategyName := c.QueryParam("strategy")
	buf := tensor.NewBuffer(p)
	if err := buf.Allocate(); err != nil {
		return nil, 0, err
	}

	ct := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ct, mimeOctetStream) {
		if len(body) != p.Bytes() {
			return nil, 0, newInvalidRequest(fmt.Sprintf("body has %d bytes, input %s needs %d", len(body), p.Dims(), p.Bytes()))
		}
		copy(buf.Bytes(), body)
	} else {
		var req InferRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, 0, newInvalidRequest(fmt.Sprintf("decode request: %v", err))
		}
		if len(req.Input) != p.Elems() {
			return nil, 0, newInvalidRequest(fmt.Sprintf("input has %d values, %s needs %d", len(req.Input), p.Dims(), p.Elems()))
		}
		copy(buf.Data(), req.Input)
		if req.Strategy != "" {
			strategyName = req.Strategy
		}
	}

	strategy := s.cfg.Strategy
	if strategyName != "" {
		if strategy, err = layer.ParseStrategy(strategyName); err != nil {
			return nil, 0, newInvalidRequest(err.Error())
		}
	}
	return buf, strategy, nil
}

func topParam(c *echo.Context) (int, error) {
	v := c.QueryParam("top")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, newInvalidRequest(fmt.Sprintf("top must be a non-negative integer, got %q", v))
	}
	return n, nil
}
