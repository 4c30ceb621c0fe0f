package htr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/internal/metrics"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

const (
	bos int64 = 0
	eos int64 = 2
)

// tableDecoder answers from a fixed table keyed by the token sequence.
type tableDecoder struct {
	table    map[string][]float32
	fallback []float32
	calls    int
	closed   bool
}

func (d *tableDecoder) NextTokenProbs(_ context.Context, tokens []int64) ([]float32, error) {
	d.calls++
	if p, ok := d.table[fmt.Sprint(tokens)]; ok {
		return p, nil
	}
	return d.fallback, nil
}

func (d *tableDecoder) Close() { d.closed = true }

func TestTopK(t *testing.T) {
	assert.Equal(t, []int{1, 2}, topK([]float32{0.1, 0.5, 0.5, 0.2}, 2))
	assert.Equal(t, []int{2, 0, 1}, topK([]float32{0.3, 0.1, 0.6}, 5))
	assert.Empty(t, topK(nil, 3))
}

func TestBeamSearchPicksHighestScore(t *testing.T) {
	dec := &tableDecoder{table: map[string][]float32{
		"[0]":   {0, 0.6, 0.1, 0.3},
		"[0 1]": {0, 0.1, 0.9, 0},
		"[0 3]": {0, 0, 1, 0},
	}}
	bs := BeamSearch{Width: 2, MaxLength: 10, BOS: bos, EOS: eos}

	best, err := bs.Search(context.Background(), dec)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, best.Tokens)
	assert.InDelta(t, math.Log(0.6+logEpsilon)+math.Log(0.9+logEpsilon), best.Score, 1e-9)
	// Both surviving beams end with EOS after two steps.
	assert.Equal(t, 3, dec.calls)

	assert.Equal(t, []int64{1}, bs.Strip(best.Tokens))
	assert.InDelta(t, math.Exp(best.Score/2), bs.Confidence(best), 1e-9)
}

func TestBeamSearchTerminatedBeamsCompete(t *testing.T) {
	dec := &tableDecoder{table: map[string][]float32{
		"[0]":     {0, 0.5, 0.45, 0.05},
		"[0 1]":   {0, 0.2, 0.2, 0.6},
		"[0 1 3]": {0, 0, 1, 0},
	}}
	bs := BeamSearch{Width: 2, MaxLength: 10, BOS: bos, EOS: eos}

	best, err := bs.Search(context.Background(), dec)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2}, best.Tokens)
	assert.Empty(t, bs.Strip(best.Tokens))
}

func TestBeamSearchStopsAtMaxLength(t *testing.T) {
	dec := &tableDecoder{fallback: []float32{0, 1, 0, 0}}
	bs := BeamSearch{Width: 1, MaxLength: 5, BOS: bos, EOS: eos}

	best, err := bs.Search(context.Background(), dec)
	require.NoError(t, err)
	assert.Len(t, best.Tokens, 6)
	assert.Equal(t, 5, dec.calls)
	assert.InDelta(t, 1.0, bs.Confidence(best), 1e-6)
}

func TestBeamSearchErrors(t *testing.T) {
	bs := BeamSearch{Width: 2, MaxLength: 4, BOS: bos, EOS: eos}

	_, err := bs.Search(context.Background(), &tableDecoder{})
	assert.ErrorIs(t, err, ErrEmptyDistribution)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bs.Search(ctx, &tableDecoder{fallback: []float32{0, 1, 0}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfidenceClamps(t *testing.T) {
	bs := BeamSearch{BOS: bos, EOS: eos}
	assert.InDelta(t, 1.0, bs.Confidence(Hypothesis{Tokens: []int64{0}, Score: 3}), 1e-9)
	assert.InDelta(t, 0.0, bs.Confidence(Hypothesis{Tokens: []int64{0, 1}, Score: math.Inf(-1)}), 1e-9)
}

func TestLetterbox(t *testing.T) {
	src := imaging.New(100, 50, color.Black)
	boxed := Letterbox(src, 40)

	assert.Equal(t, image.Rect(0, 0, 40, 40), boxed.Bounds())
	r, g, b, _ := boxed.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})
	r, _, _, _ = boxed.At(20, 20).RGBA()
	assert.Equal(t, uint32(0), r)
}

func TestLetterboxUpscalesSmallImages(t *testing.T) {
	src := imaging.New(100, 50, color.Black)
	boxed := Letterbox(src, 384)

	require.Equal(t, image.Rect(0, 0, 384, 384), boxed.Bounds())
	dark := 0
	for y := 0; y < 384; y++ {
		for x := 0; x < 384; x++ {
			if r, _, _, _ := boxed.At(x, y).RGBA(); r < 0x8000 {
				dark++
			}
		}
	}
	assert.InDelta(t, 384*192, dark, 1000)
	r, _, _, _ := boxed.At(0, 192).RGBA()
	assert.Less(t, r, uint32(0x8000))
	r, _, _, _ = boxed.At(192, 10).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestPixelValues(t *testing.T) {
	src := imaging.New(10, 20, color.White)
	px := PixelValues(src, 8)

	require.Len(t, px, 3*8*8)
	for c := 0; c < 3; c++ {
		want := (1 - imageNetMean[c]) / imageNetStd[c]
		assert.InDelta(t, want, px[c*64], 1e-5)
		assert.InDelta(t, want, px[c*64+63], 1e-5)
	}
}

func TestSoftmax(t *testing.T) {
	p := softmax([]float32{1, 2, 3})
	var sum float32
	for _, v := range p {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Greater(t, p[2], p[1])
}

type fakeModel struct {
	dec    *tableDecoder
	closed int
}

func (m *fakeModel) Close() error {
	m.closed++
	return nil
}

func (m *fakeModel) Encode(context.Context, []float32, int) (BoundDecoder, error) {
	return m.dec, nil
}

func (m *fakeModel) DecodeTokens(ids []int64) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteByte(byte('a' + id))
	}
	return " " + sb.String() + " ", nil
}

func artifactFiles(t *testing.T) config.HTRConfig {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 4)
	for i, name := range []string{"encoder.onnx", "decoder.onnx", "tokenizer.json", "libonnxruntime.so"} {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("x"), 0o600))
	}
	return config.HTRConfig{
		Enabled:        true,
		EncoderPath:    paths[0],
		DecoderPath:    paths[1],
		TokenizerPath:  paths[2],
		RuntimeLibrary: paths[3],
		BeamSize:       2,
		MaxLength:      10,
		ImageSize:      16,
		BOSTokenID:     bos,
		EOSTokenID:     eos,
	}
}

func page() image.Image {
	return imaging.New(32, 16, color.White)
}

func TestEngineDisabled(t *testing.T) {
	loads := 0
	handle := NewModelHandle(func() (SequenceModel, error) {
		loads++
		return nil, errors.New("unreachable")
	})
	e := NewEngineWithModel(config.HTRConfig{Enabled: false}, handle, logger.NewNop())

	got := e.Recognize(context.Background(), page())
	assert.Empty(t, got.Text)
	assert.Zero(t, got.Confidence)
	assert.Zero(t, loads)
}

func TestEngineMissingArtifacts(t *testing.T) {
	before := testutil.ToFloat64(metrics.HTRDegraded.WithLabelValues("missing_artifacts"))
	log := logger.NewTestLogger()
	e := NewEngine(config.HTRConfig{
		Enabled:     true,
		EncoderPath: "/nonexistent/encoder.onnx",
	}, log)

	got := e.Recognize(context.Background(), page())
	assert.Empty(t, got.Text)
	assert.Zero(t, got.Confidence)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HTRDegraded.WithLabelValues("missing_artifacts")))
	assert.Len(t, log.EntriesAt("WARN"), 1)
}

func TestEngineRecognize(t *testing.T) {
	dec := &tableDecoder{table: map[string][]float32{
		"[0]":   {0, 0.6, 0.1, 0.3},
		"[0 1]": {0, 0.1, 0.9, 0},
		"[0 3]": {0, 0, 1, 0},
	}}
	cfg := artifactFiles(t)
	e := NewEngineWithModel(cfg, NewModelHandle(func() (SequenceModel, error) {
		return &fakeModel{dec: dec}, nil
	}), logger.NewNop())

	got := e.Recognize(context.Background(), page())
	assert.Equal(t, "b", got.Text)
	assert.InDelta(t, math.Exp((math.Log(0.6+logEpsilon)+math.Log(0.9+logEpsilon))/2), got.Confidence, 1e-9)
	assert.True(t, dec.closed)
}

func TestEngineRetriesFailedLoad(t *testing.T) {
	cfg := artifactFiles(t)
	loads := 0
	handle := NewModelHandle(func() (SequenceModel, error) {
		loads++
		if loads == 1 {
			return nil, errors.New("library busy")
		}
		return &fakeModel{dec: &tableDecoder{fallback: []float32{0, 0, 1}}}, nil
	})
	e := NewEngineWithModel(cfg, handle, logger.NewNop())

	first := e.Recognize(context.Background(), page())
	assert.Empty(t, first.Text)

	second := e.Recognize(context.Background(), page())
	assert.Empty(t, second.Text)
	assert.InDelta(t, 1.0, second.Confidence, 1e-6)

	e.Recognize(context.Background(), page())
	assert.Equal(t, 2, loads)
}

func TestEngineCloseReleasesModel(t *testing.T) {
	cfg := artifactFiles(t)
	var models []*fakeModel
	handle := NewModelHandle(func() (SequenceModel, error) {
		m := &fakeModel{dec: &tableDecoder{fallback: []float32{0, 0, 1}}}
		models = append(models, m)
		return m, nil
	})
	e := NewEngineWithModel(cfg, handle, logger.NewNop())

	require.NoError(t, e.Close())
	assert.Empty(t, models)

	e.Recognize(context.Background(), page())
	require.Len(t, models, 1)
	require.NoError(t, e.Close())
	assert.Equal(t, 1, models[0].closed)
	require.NoError(t, e.Close())
	assert.Equal(t, 1, models[0].closed)

	e.Recognize(context.Background(), page())
	assert.Len(t, models, 2)
}

func TestArtifactsMissing(t *testing.T) {
	cfg := artifactFiles(t)
	assert.Empty(t, artifactsFrom(cfg).Missing())

	cfg.TokenizerPath = ""
	cfg.DecoderPath = filepath.Join(t.TempDir(), "gone.onnx")
	assert.Equal(t, []string{cfg.DecoderPath, "<unset>"}, artifactsFrom(cfg).Missing())
}
