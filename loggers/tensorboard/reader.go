package tensorboard

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrCorrupt is returned by ReadEvents for a record that fails its checksum.
var ErrCorrupt = errors.New("tensorboard: corrupt record")

// Event is a decoded event record. Only the fields this package writes are decoded.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Scalars     map[string]float32
}

// ReadEvents decodes every record of an events file.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var events []Event
	for {
		data, err := readRecord(r)
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		ev, err := decodeEvent(data)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func readRecord(r io.Reader) ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrCorrupt
		}
		return nil, err
	}
	if binary.LittleEndian.Uint32(header[8:]) != maskedCRC(header[:8]) {
		return nil, fmt.Errorf("%w: length checksum", ErrCorrupt)
	}
	n := binary.LittleEndian.Uint64(header[:8])
	buf := make([]byte, n+4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	data := buf[:n]
	if binary.LittleEndian.Uint32(buf[n:]) != maskedCRC(data) {
		return nil, fmt.Errorf("%w: data checksum", ErrCorrupt)
	}
	return data, nil
}

func decodeEvent(b []byte) (Event, error) {
	var ev Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ev, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return ev, protowire.ParseError(n)
			}
			ev.WallTime = math.Float64frombits(v)
			b = b[n:]
		case num == eventStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ev, protowire.ParseError(n)
			}
			ev.Step = int64(v)
			b = b[n:]
		case num == eventFileVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ev, protowire.ParseError(n)
			}
			ev.FileVersion = v
			b = b[n:]
		case num == eventSummary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ev, protowire.ParseError(n)
			}
			scalars, err := decodeSummary(v)
			if err != nil {
				return ev, err
			}
			ev.Scalars = scalars
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ev, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return ev, nil
}

func decodeSummary(b []byte) (map[string]float32, error) {
	scalars := map[string]float32{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != summaryValue || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		var tag string
		var value float32
		for len(v) > 0 {
			num, typ, n := protowire.ConsumeTag(v)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			v = v[n:]
			switch {
			case num == valueTag && typ == protowire.BytesType:
				s, n := protowire.ConsumeString(v)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				tag = s
				v = v[n:]
			case num == valueSimpleValue && typ == protowire.Fixed32Type:
				x, n := protowire.ConsumeFixed32(v)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				value = math.Float32frombits(x)
				v = v[n:]
			default:
				n := protowire.ConsumeFieldValue(num, typ, v)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				v = v[n:]
			}
		}
		scalars[tag] = value
	}
	return scalars, nil
}
