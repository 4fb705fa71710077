//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/utsushi/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig describes an exported image model.
type ONNXConfig struct {
	ModelPath string
	InputName string
	// OutputNames are pooled activation layers; each is L2-normalized and the results concatenated.
	OutputNames []string
	// OutputDims is the width of each output. With a single output it defaults to Dimensions.
	OutputDims []int
	Dimensions int
	InputSize  int
}

// ONNXEmbedder runs a ResNet-style image model through ONNX Runtime. It requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	session      *ort.AdvancedSession
	dimensions   int
	inputSize    int
	preprocessor Preprocessor
	// Pre-allocated tensors for Run(); we overwrite the input data and read the outputs.
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	mu            sync.Mutex
}

// NewONNXEmbedder creates an ONNX embedder. InitializeEnvironment is called if not already done.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 224
	}
	if cfg.InputName == "" {
		cfg.InputName = "input_1"
	}
	if len(cfg.OutputNames) == 0 {
		cfg.OutputNames = []string{"avg_pool"}
	}
	if len(cfg.OutputDims) == 0 && len(cfg.OutputNames) == 1 {
		cfg.OutputDims = []int{cfg.Dimensions}
	}
	if len(cfg.OutputDims) != len(cfg.OutputNames) {
		return nil, fmt.Errorf("need one output dimension per output name (%d names, %d dims)", len(cfg.OutputNames), len(cfg.OutputDims))
	}
	total := 0
	for _, d := range cfg.OutputDims {
		total += d
	}
	if total != cfg.Dimensions || total <= 0 {
		return nil, fmt.Errorf("output dimensions sum to %d, configured dimensions %d", total, cfg.Dimensions)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	size := int64(cfg.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, size, size, 3))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	e := &ONNXEmbedder{
		dimensions:   cfg.Dimensions,
		inputSize:    cfg.InputSize,
		preprocessor: ResNetPreprocessor{},
		inputTensor:  inputTensor,
	}
	outputs := make([]ort.ArbitraryTensor, 0, len(cfg.OutputNames))
	for i, name := range cfg.OutputNames {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.OutputDims[i])))
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("failed to create output tensor %s: %w", name, err)
		}
		e.outputTensors = append(e.outputTensors, t)
		outputs = append(outputs, t)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		cfg.OutputNames,
		[]ort.ArbitraryTensor{inputTensor},
		outputs,
		nil,
	)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	e.session = session
	return e, nil
}

// Embed preprocesses the image, runs the model, and concatenates the per-layer normalized outputs.
func (e *ONNXEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input := make([]float32, e.inputSize*e.inputSize*3)
	if err := e.preprocessor.Preprocess(image, e.inputSize, input); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("embedder closed")
	}

	copy(e.inputTensor.GetData(), input)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	parts := make([][]float32, len(e.outputTensors))
	for i, t := range e.outputTensors {
		parts[i] = t.GetData()
	}
	embedding := utils.ConcatNormalized(parts...)
	if len(embedding) != e.dimensions {
		return nil, fmt.Errorf("model produced %d values, expected %d", len(embedding), e.dimensions)
	}
	return embedding, nil
}

// EmbedBatch calls Embed for each image.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, images [][]byte) ([][]float32, error) {
	return embedEach(ctx, e, images)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	for _, t := range e.outputTensors {
		_ = t.Destroy()
	}
	e.outputTensors = nil
	return err
}
