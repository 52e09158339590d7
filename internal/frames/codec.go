package frames

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"vampsync/internal/fits"
)

const (
	// FrameRefNameSize is the fixed width of a reference's source name.
	FrameRefNameSize = 256
	// FrameRefSize is the encoded size of one frame-list entry.
	FrameRefSize = FrameRefNameSize + 8
)

// codec reads and writes one Kind. Dispatch goes through codecs.
type codec interface {
	readHeader(path string) (*fits.Header, error)
	read(path string) (*fits.Header, Payload, error)
	write(w io.Writer, h *fits.Header, p Payload) error
}

var codecs = map[Kind]codec{
	KindCube:           cubeCodec{},
	KindCompressedCube: cubeCodec{compressed: true},
	KindFrameList:      frameListCodec{},
}

func codecFor(k Kind) (codec, error) {
	c, ok := codecs[k]
	if !ok {
		return nil, fmt.Errorf("%w: no codec for kind %d", ErrInvalidName, k)
	}
	return c, nil
}

type cubeCodec struct {
	compressed bool
}

func (c cubeCodec) open(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !c.compressed {
		return f, func() { _ = f.Close() }, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%w: %v", fits.ErrMalformed, err)
	}
	return zr, func() {
		_ = zr.Close()
		_ = f.Close()
	}, nil
}

func (c cubeCodec) readHeader(path string) (*fits.Header, error) {
	r, closeFn, err := c.open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return fits.ReadHeader(r)
}

func (c cubeCodec) read(path string) (*fits.Header, Payload, error) {
	r, closeFn, err := c.open(path)
	if err != nil {
		return nil, nil, err
	}
	defer closeFn()
	h, data, err := fits.Decode(r)
	if err != nil {
		return nil, nil, err
	}
	size, err := planeSize(h)
	if err != nil {
		return nil, nil, err
	}
	cube, err := NewCube(size, data)
	if err != nil {
		return nil, nil, err
	}
	return h, cube, nil
}

func (c cubeCodec) write(w io.Writer, h *fits.Header, p Payload) error {
	cube, ok := p.(*Cube)
	if !ok {
		return fmt.Errorf("%w: cube codec given %T", ErrKindMismatch, p)
	}
	if !c.compressed {
		return fits.Encode(w, h, cube.data)
	}
	zw := gzip.NewWriter(w)
	if err := fits.Encode(zw, h, cube.data); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

type frameListCodec struct{}

func (frameListCodec) readHeader(path string) (*fits.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fits.ReadHeader(f)
}

func (frameListCodec) read(path string) (*fits.Header, Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	h, data, err := fits.Decode(f)
	if err != nil {
		return nil, nil, err
	}
	if width, _ := h.Int(fits.AxisKey(1)); width != FrameRefSize {
		return nil, nil, fmt.Errorf("%w: frame list row width %d", fits.ErrMalformed, width)
	}
	list := &FrameList{}
	for off := 0; off+FrameRefSize <= len(data); off += FrameRefSize {
		name := bytes.TrimRight(data[off:off+FrameRefNameSize], "\x00 ")
		list.refs = append(list.refs, FrameRef{
			Source: string(name),
			Index:  binary.LittleEndian.Uint64(data[off+FrameRefNameSize : off+FrameRefSize]),
		})
	}
	return h, list, nil
}

func (frameListCodec) write(w io.Writer, h *fits.Header, p Payload) error {
	list, ok := p.(*FrameList)
	if !ok {
		return fmt.Errorf("%w: frame list codec given %T", ErrKindMismatch, p)
	}
	data := make([]byte, len(list.refs)*FrameRefSize)
	for i, ref := range list.refs {
		if len(ref.Source) > FrameRefNameSize {
			return fmt.Errorf("frame reference name %q exceeds %d bytes", ref.Source, FrameRefNameSize)
		}
		off := i * FrameRefSize
		copy(data[off:off+FrameRefNameSize], ref.Source)
		binary.LittleEndian.PutUint64(data[off+FrameRefNameSize:off+FrameRefSize], ref.Index)
	}
	return fits.Encode(w, h, data)
}

// NewFrameListHeader returns the header layout of a frame-list file.
func NewFrameListHeader(frames int) *fits.Header {
	return fits.NewImageHeader(8, FrameRefSize, 1, frames)
}

// planeSize returns the byte length of one frame described by h.
func planeSize(h *fits.Header) (int, error) {
	bitpix, ok := h.Int(fits.KeyBitpix)
	if !ok {
		return 0, fmt.Errorf("%w: missing BITPIX", fits.ErrMalformed)
	}
	naxis, _ := h.Int(fits.KeyNaxis)
	if naxis > 3 {
		return 0, fmt.Errorf("%w: %d axes, frame files carry at most 3", fits.ErrMalformed, naxis)
	}
	if bitpix < 0 {
		bitpix = -bitpix
	}
	size := bitpix / 8
	for i := 1; i <= int(min(naxis, 2)); i++ {
		n, ok := h.Int(fits.AxisKey(i))
		if !ok {
			return 0, fmt.Errorf("%w: missing %s", fits.ErrMalformed, fits.AxisKey(i))
		}
		size *= n
	}
	return int(size), nil
}

// headerFrames reads the frame count: NAXIS3 for cubes, 1 for single planes.
func headerFrames(h *fits.Header) int {
	naxis, _ := h.Int(fits.KeyNaxis)
	switch {
	case naxis >= 3:
		n, _ := h.Int(fits.AxisKey(3))
		return int(n)
	case naxis > 0:
		return 1
	default:
		return 0
	}
}

// setHeaderFrames records n frames, promoting a single plane to a cube.
func setHeaderFrames(h *fits.Header, n int) {
	if naxis, _ := h.Int(fits.KeyNaxis); naxis < 3 {
		h.Set(fits.KeyNaxis, 3)
		if naxis < 2 {
			h.Set(fits.AxisKey(2), 1)
		}
	}
	h.Set(fits.AxisKey(3), n)
}
