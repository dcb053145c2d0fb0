package model

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/neurlang/plloggers/datasets/mnist"
)

var checkpointMagic = [4]byte{'S', 'M', 'N', '1'}

// ErrCheckpoint is returned by Load for a checkpoint that does not fit the model.
var ErrCheckpoint = errors.New("model: incompatible checkpoint")

type checkpointHeader struct {
	Magic     [4]byte
	Buckets   uint32
	PixelBits uint32
	Classes   uint32
}

// Save writes the weights as a zstd-compressed little-endian stream.
func (m *SimpleMNIST) Save(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(zw)
	hdr := checkpointHeader{
		Magic:     checkpointMagic,
		Buckets:   m.buckets,
		PixelBits: uint32(m.cfg.PixelBits),
		Classes:   mnist.Classes,
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		zw.Close()
		return err
	}
	for _, weights := range m.weights {
		if err := binary.Write(bw, binary.LittleEndian, weights); err != nil {
			zw.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Load replaces the weights with a checkpoint written by Save for the same bucket count
// and pixel depth.
func (m *SimpleMNIST) Load(r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	var hdr checkpointHeader
	if err := binary.Read(zr, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	switch {
	case hdr.Magic != checkpointMagic:
		return fmt.Errorf("%w: bad magic %q", ErrCheckpoint, hdr.Magic[:])
	case hdr.Buckets != m.buckets:
		return fmt.Errorf("%w: %d buckets, model has %d", ErrCheckpoint, hdr.Buckets, m.buckets)
	case hdr.PixelBits != uint32(m.cfg.PixelBits):
		return fmt.Errorf("%w: %d pixel bits, model has %d", ErrCheckpoint, hdr.PixelBits, m.cfg.PixelBits)
	case hdr.Classes != mnist.Classes:
		return fmt.Errorf("%w: %d classes", ErrCheckpoint, hdr.Classes)
	}

	var loaded [mnist.Classes][]int32
	for c := range loaded {
		loaded[c] = make([]int32, m.buckets)
		if err := binary.Read(zr, binary.LittleEndian, loaded[c]); err != nil {
			return fmt.Errorf("%w: %v", ErrCheckpoint, err)
		}
	}
	m.weights = loaded
	return nil
}
