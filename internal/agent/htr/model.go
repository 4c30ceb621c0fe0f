package htr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// SequenceModel is a loaded encoder/decoder pair with its tokenizer.
type SequenceModel interface {
	// Encode runs the encoder once and returns a decoder bound to its
	// hidden states. The caller must Close it.
	Encode(ctx context.Context, pixels []float32, size int) (BoundDecoder, error)
	DecodeTokens(ids []int64) (string, error)
}

type BoundDecoder interface {
	StepDecoder
	Close()
}

// Artifacts are the files a model load needs.
type Artifacts struct {
	Encoder        string
	Decoder        string
	Tokenizer      string
	RuntimeLibrary string
}

// Missing lists the artifact paths that are unset or absent on disk.
func (a Artifacts) Missing() []string {
	var missing []string
	for _, p := range []string{a.Encoder, a.Decoder, a.Tokenizer, a.RuntimeLibrary} {
		if p == "" {
			missing = append(missing, "<unset>")
			continue
		}
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	return missing
}

var ErrArtifactsMissing = errors.New("handwriting model artifacts missing")

// ModelHandle loads a SequenceModel at most once. A failed load leaves the
// handle empty so a later call can try again.
type ModelHandle struct {
	mu     sync.Mutex
	loaded bool
	model  SequenceModel
	load   func() (SequenceModel, error)
}

func NewModelHandle(load func() (SequenceModel, error)) *ModelHandle {
	return &ModelHandle{load: load}
}

// Close releases a loaded model that holds native resources. A later Get
// loads it again.
func (h *ModelHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.loaded {
		return nil
	}
	var err error
	if c, ok := h.model.(interface{ Close() error }); ok {
		err = c.Close()
	}
	h.model = nil
	h.loaded = false
	return err
}

func (h *ModelHandle) Get() (SequenceModel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded {
		return h.model, nil
	}
	m, err := h.load()
	if err != nil {
		return nil, err
	}
	h.model = m
	h.loaded = true
	return m, nil
}

// ONNX tensor names of a VisionEncoderDecoder export.
const (
	encoderInput  = "pixel_values"
	encoderOutput = "last_hidden_state"
	decoderIDs    = "input_ids"
	decoderHidden = "encoder_hidden_states"
	decoderLogits = "logits"
)

var initRuntime sync.Once

type onnxModel struct {
	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
	tok     *tokenizer.Tokenizer
}

// LoadONNX opens the encoder and decoder sessions and the tokenizer.
func LoadONNX(a Artifacts) (SequenceModel, error) {
	if missing := a.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrArtifactsMissing, missing)
	}

	var initErr error
	initRuntime.Do(func() {
		ort.SetSharedLibraryPath(a.RuntimeLibrary)
		if !ort.IsInitialized() {
			initErr = ort.InitializeEnvironment()
		}
	})
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", initErr)
	}
	if !ort.IsInitialized() {
		return nil, errors.New("onnxruntime is not initialized")
	}

	encoder, err := ort.NewDynamicAdvancedSession(a.Encoder,
		[]string{encoderInput}, []string{encoderOutput}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoder: %w", err)
	}
	decoder, err := ort.NewDynamicAdvancedSession(a.Decoder,
		[]string{decoderIDs, decoderHidden}, []string{decoderLogits}, nil)
	if err != nil {
		encoder.Destroy()
		return nil, fmt.Errorf("failed to load decoder: %w", err)
	}
	tok, err := pretrained.FromFile(a.Tokenizer)
	if err != nil {
		encoder.Destroy()
		decoder.Destroy()
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	return &onnxModel{encoder: encoder, decoder: decoder, tok: tok}, nil
}

func (m *onnxModel) Close() error {
	return errors.Join(m.encoder.Destroy(), m.decoder.Destroy())
}

func (m *onnxModel) Encode(ctx context.Context, pixels []float32, size int) (BoundDecoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := m.encoder.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run encoder: %w", err)
	}
	return &onnxDecoder{session: m.decoder, hidden: outputs[0]}, nil
}

func (m *onnxModel) DecodeTokens(ids []int64) (string, error) {
	ints := make([]int, len(ids))
	for i, id := range ids {
		ints[i] = int(id)
	}
	return m.tok.Decode(ints, true), nil
}

type onnxDecoder struct {
	session *ort.DynamicAdvancedSession
	hidden  ort.Value
}

func (d *onnxDecoder) NextTokenProbs(ctx context.Context, tokens []int64) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create id tensor: %w", err)
	}
	defer ids.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{ids, d.hidden}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run decoder: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected logits type %T", outputs[0])
	}
	shape := logits.GetShape()
	if len(shape) != 3 || shape[2] == 0 {
		return nil, fmt.Errorf("unexpected logits shape %v", shape)
	}
	vocab := int(shape[2])
	data := logits.GetData()
	return softmax(data[len(data)-vocab:]), nil
}

func (d *onnxDecoder) Close() {
	if d.hidden != nil {
		d.hidden.Destroy()
	}
}

func softmax(logits []float32) []float32 {
	peak := float32(math.Inf(-1))
	for _, v := range logits {
		peak = max(peak, v)
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - peak))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
