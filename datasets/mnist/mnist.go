// Package mnist loads the MNIST handwritten digit dataset from its IDX .gz files.
package mnist

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// ImgSize is the side of an MNIST image.
const ImgSize = 28

// Features is the number of 2x2 patches of an image.
const Features = (ImgSize - 1) * (ImgSize - 1)

// Classes is the number of digit labels.
const Classes = 10

const (
	TestImages  = "t10k-images-idx3-ubyte.gz"
	TestLabels  = "t10k-labels-idx1-ubyte.gz"
	TrainImages = "train-images-idx3-ubyte.gz"
	TrainLabels = "train-labels-idx1-ubyte.gz"
)

// Digests are the SHA-256 sums of the published files.
var Digests = map[string]string{
	TestImages:  "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
	TestLabels:  "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
	TrainImages: "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
	TrainLabels: "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
}

// Files lists the dataset files in load order.
var Files = []string{TrainImages, TrainLabels, TestImages, TestLabels}

const (
	imagesMagic = 0x00000803
	labelsMagic = 0x00000801
)

var (
	// ErrChecksum is returned when a file does not match its digest.
	ErrChecksum = errors.New("mnist: checksum mismatch")
	// ErrFormat is returned for a malformed IDX file.
	ErrFormat = errors.New("mnist: malformed idx file")
)

// Input is one 28x28 grayscale image, row major.
type Input [ImgSize * ImgSize]byte

// Feature packs the 2x2 patch whose top-left pixel is n into one word.
func (i *Input) Feature(n int) uint32 {
	n %= Features
	n += n / (ImgSize - 1)
	return uint32(i[n]) | uint32(i[n+1])<<8 | uint32(i[n+ImgSize])<<16 | uint32(i[n+1+ImgSize])<<24
}

// Sample is a labelled image.
type Sample struct {
	Image Input
	Label byte
}

// Dataset holds the training and the validation (t10k) split.
type Dataset struct {
	Train []Sample
	Val   []Sample
}

type options struct {
	digests map[string]string
}

// Option configures Load and Download.
type Option func(*options)

// WithDigests replaces Digests. A nil map disables verification.
func WithDigests(digests map[string]string) Option {
	return func(o *options) { o.digests = digests }
}

func newOptions(opts []Option) options {
	o := options{digests: Digests}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Missing lists the dataset files absent from dir.
func Missing(dir string) []string {
	var missing []string
	for _, name := range Files {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// Load reads and verifies the four dataset files in dir.
func Load(dir string, opts ...Option) (*Dataset, error) {
	o := newOptions(opts)

	read := func(name string) ([]byte, error) {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if err := verify(name, raw, o.digests); err != nil {
			return nil, err
		}
		return gunzip(name, raw)
	}
	split := func(imagesName, labelsName string) ([]Sample, error) {
		imgs, err := read(imagesName)
		if err != nil {
			return nil, err
		}
		lbls, err := read(labelsName)
		if err != nil {
			return nil, err
		}
		return decode(imagesName, imgs, labelsName, lbls)
	}

	train, err := split(TrainImages, TrainLabels)
	if err != nil {
		return nil, err
	}
	val, err := split(TestImages, TestLabels)
	if err != nil {
		return nil, err
	}
	return &Dataset{Train: train, Val: val}, nil
}

func verify(name string, raw []byte, digests map[string]string) error {
	if digests == nil {
		return nil
	}
	want, ok := digests[name]
	if !ok {
		return nil
	}
	sum := sha256.Sum256(raw)
	if got := hex.EncodeToString(sum[:]); got != want {
		return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksum, name, got, want)
	}
	return nil
}

func gunzip(name string, raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mnist: %s: %w", name, err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("mnist: %s: %w", name, err)
	}
	return data, nil
}

func decode(imagesName string, imgs []byte, labelsName string, lbls []byte) ([]Sample, error) {
	if len(imgs) < 16 || binary.BigEndian.Uint32(imgs) != imagesMagic {
		return nil, fmt.Errorf("%w: %s: bad images header", ErrFormat, imagesName)
	}
	if len(lbls) < 8 || binary.BigEndian.Uint32(lbls) != labelsMagic {
		return nil, fmt.Errorf("%w: %s: bad labels header", ErrFormat, labelsName)
	}
	count := int(binary.BigEndian.Uint32(imgs[4:]))
	rows := binary.BigEndian.Uint32(imgs[8:])
	cols := binary.BigEndian.Uint32(imgs[12:])
	if rows != ImgSize || cols != ImgSize {
		return nil, fmt.Errorf("%w: %s: images are %dx%d", ErrFormat, imagesName, rows, cols)
	}
	if nl := int(binary.BigEndian.Uint32(lbls[4:])); nl != count {
		return nil, fmt.Errorf("%w: %d images but %d labels", ErrFormat, count, nl)
	}
	imgs, lbls = imgs[16:], lbls[8:]
	if len(imgs) != count*ImgSize*ImgSize || len(lbls) != count {
		return nil, fmt.Errorf("%w: %s: truncated", ErrFormat, imagesName)
	}

	samples := make([]Sample, count)
	for i := range samples {
		copy(samples[i].Image[:], imgs[i*ImgSize*ImgSize:])
		if lbls[i] >= Classes {
			return nil, fmt.Errorf("%w: %s: label %d out of range", ErrFormat, labelsName, lbls[i])
		}
		samples[i].Label = lbls[i]
	}
	return samples, nil
}
