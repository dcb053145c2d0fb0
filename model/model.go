// Package model implements SimpleMNIST, an integer-only hashed multiclass perceptron.
//
// Every 2x2 patch of an image is quantized to PixelBits bits per pixel and hashed,
// together with its position, into one of Buckets() weight buckets. Each class owns an
// int32 weight per bucket; the class score is the sum over the image's active buckets.
package model

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/neurlang/plloggers/datasets/mnist"
	"github.com/neurlang/plloggers/devices"
	"github.com/neurlang/plloggers/hash"
	"github.com/neurlang/plloggers/hparams"
	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/trainer"
)

// ErrNoData is returned by training methods called before PrepareData.
var ErrNoData = errors.New("model: dataset not prepared")

// Config holds the model options.
type Config struct {
	LearningRate    int
	BatchSize       int
	DataRoot        string
	Download        bool
	BaseURL         string
	Buckets         int
	PixelBits       int
	WeightInit      int
	LimitTrain      int
	ValSignificance int
	Workers         int
}

// ConfigFrom picks the model options out of the run configuration.
func ConfigFrom(h hparams.HParams) Config {
	return Config{
		LearningRate:    h.LearningRate,
		BatchSize:       h.BatchSize,
		DataRoot:        h.DataRoot,
		Download:        h.Download,
		BaseURL:         mnist.DefaultBaseURL,
		Buckets:         h.Buckets,
		PixelBits:       h.PixelBits,
		WeightInit:      h.WeightInit,
		LimitTrain:      h.LimitTrain,
		ValSignificance: h.ValSignificance,
	}
}

// SimpleMNIST is the model and its data.
type SimpleMNIST struct {
	cfg     Config
	buckets uint32
	mask    uint32
	shift   uint
	weights [mnist.Classes][]int32

	data     *mnist.Dataset
	dataOpts []mnist.Option
	order    []int
}

var _ trainer.Module = (*SimpleMNIST)(nil)

// Option configures New.
type Option func(*SimpleMNIST)

// WithDataset installs ds, making PrepareData a no-op.
func WithDataset(ds *mnist.Dataset) Option {
	return func(m *SimpleMNIST) { m.UseDataset(ds) }
}

// WithDataOptions passes options to mnist.Load and mnist.Download in PrepareData.
func WithDataOptions(opts ...mnist.Option) Option {
	return func(m *SimpleMNIST) { m.dataOpts = append(m.dataOpts, opts...) }
}

// New builds the model from h and draws its initial weights from rng.
func New(h hparams.HParams, rng *rand.Rand, opts ...Option) (*SimpleMNIST, error) {
	return NewFromConfig(ConfigFrom(h), rng, opts...)
}

// NewFromConfig is New for an explicit Config.
func NewFromConfig(cfg Config, rng *rand.Rand, opts ...Option) (*SimpleMNIST, error) {
	switch {
	case cfg.LearningRate < 1:
		return nil, fmt.Errorf("%w: learning_rate %d", hparams.ErrInvalid, cfg.LearningRate)
	case cfg.BatchSize < 1:
		return nil, fmt.Errorf("%w: batch_size %d", hparams.ErrInvalid, cfg.BatchSize)
	case cfg.Buckets < 2 || cfg.Buckets > hparams.MaxBuckets:
		return nil, fmt.Errorf("%w: buckets %d", hparams.ErrInvalid, cfg.Buckets)
	case cfg.PixelBits < 1 || cfg.PixelBits > 8:
		return nil, fmt.Errorf("%w: pixel_bits %d", hparams.ErrInvalid, cfg.PixelBits)
	case cfg.WeightInit < 0:
		return nil, fmt.Errorf("%w: weight_init %d", hparams.ErrInvalid, cfg.WeightInit)
	case rng == nil:
		return nil, errors.New("model: no random source")
	}
	if cfg.Workers < 1 {
		cfg.Workers = devices.Workers()
	}

	m := &SimpleMNIST{
		cfg:     cfg,
		buckets: hash.PrimeAtLeast(uint32(cfg.Buckets)),
		shift:   uint(8 - cfg.PixelBits),
	}
	m.mask = uint32(0xff>>m.shift) * 0x01010101

	span := 2*cfg.WeightInit + 1
	for c := range m.weights {
		w := make([]int32, m.buckets)
		for b := range w {
			w[b] = int32(rng.Intn(span) - cfg.WeightInit)
		}
		m.weights[c] = w
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Buckets is the prime size of each class's weight table.
func (m *SimpleMNIST) Buckets() uint32 { return m.buckets }

// WeightsDigest fingerprints all weights.
func (m *SimpleMNIST) WeightsDigest() [32]byte {
	h := sha256.New()
	buf := make([]byte, 4*m.buckets)
	for _, w := range m.weights {
		for i, v := range w {
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
		}
		h.Write(buf)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// UseDataset installs ds, making PrepareData a no-op.
func (m *SimpleMNIST) UseDataset(ds *mnist.Dataset) {
	m.data = ds
	m.resetOrder()
}

func (m *SimpleMNIST) resetOrder() {
	m.order = make([]int, len(m.data.Train))
	for i := range m.order {
		m.order[i] = i
	}
}

// PrepareData loads MNIST from DataRoot, downloading missing files first when Download is set.
func (m *SimpleMNIST) PrepareData(ctx context.Context) error {
	if m.data != nil {
		return nil
	}
	root := m.cfg.DataRoot
	if missing := mnist.Missing(root); len(missing) > 0 {
		if !m.cfg.Download {
			return fmt.Errorf("model: %d mnist files missing from %s and download is disabled: %w",
				len(missing), root, os.ErrNotExist)
		}
		if err := mnist.Download(ctx, root, m.cfg.BaseURL, m.dataOpts...); err != nil {
			return err
		}
	}
	ds, err := mnist.Load(root, m.dataOpts...)
	if err != nil {
		return err
	}
	abs, _ := filepath.Abs(root)
	ctxlog.FromContext(ctx).Info("model: mnist loaded", "dir", abs, "train", len(ds.Train), "val", len(ds.Val))
	m.UseDataset(ds)
	return nil
}

func (m *SimpleMNIST) Hyperparams() map[string]any {
	return map[string]any{
		"learning_rate":    m.cfg.LearningRate,
		"batch_size":       m.cfg.BatchSize,
		"buckets":          int(m.buckets),
		"pixel_bits":       m.cfg.PixelBits,
		"weight_init":      m.cfg.WeightInit,
		"limit_train":      m.cfg.LimitTrain,
		"val_significance": m.cfg.ValSignificance,
	}
}

// OnEpochStart shuffles the training order.
func (m *SimpleMNIST) OnEpochStart(epoch int, rng *rand.Rand) {
	if m.data == nil {
		return
	}
	m.resetOrder()
	rng.Shuffle(len(m.order), func(i, j int) { m.order[i], m.order[j] = m.order[j], m.order[i] })
}

func (m *SimpleMNIST) TrainLen() int {
	if m.data == nil {
		return 0
	}
	n := len(m.order)
	if m.cfg.LimitTrain > 0 && m.cfg.LimitTrain < n {
		n = m.cfg.LimitTrain
	}
	return n
}

func (m *SimpleMNIST) BatchSize() int       { return m.cfg.BatchSize }
func (m *SimpleMNIST) ValSignificance() int { return m.cfg.ValSignificance }

func (m *SimpleMNIST) ValLen() int {
	if m.data == nil {
		return 0
	}
	return len(m.data.Val)
}

func (m *SimpleMNIST) ValLabel(i int) uint16 { return uint16(m.data.Val[i].Label) }
