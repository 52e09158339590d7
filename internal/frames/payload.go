package frames

import (
	"fmt"
	"slices"
)

// Payload is the frame data of one file. Implementations never share
// backing storage between the receiver and the returned values.
type Payload interface {
	Frames() int
	Select(mask []bool) (Payload, error)
	Append(other Payload) (Payload, error)
}

// Cube is a stack of equally sized image planes stored back to back.
type Cube struct {
	planeSize int
	data      []byte
}

// NewCube wraps data holding whole planes of planeSize bytes.
func NewCube(planeSize int, data []byte) (*Cube, error) {
	if planeSize <= 0 {
		return nil, fmt.Errorf("cube plane size %d must be positive", planeSize)
	}
	if len(data)%planeSize != 0 {
		return nil, fmt.Errorf("cube data length %d is not a multiple of plane size %d", len(data), planeSize)
	}
	return &Cube{planeSize: planeSize, data: data}, nil
}

func (c *Cube) Frames() int { return len(c.data) / c.planeSize }

// PlaneSize returns the byte length of one frame.
func (c *Cube) PlaneSize() int { return c.planeSize }

// Bytes returns the raw data. Callers must not modify it.
func (c *Cube) Bytes() []byte { return c.data }

// Plane returns frame i.
func (c *Cube) Plane(i int) []byte {
	return c.data[i*c.planeSize : (i+1)*c.planeSize]
}

func (c *Cube) Select(mask []bool) (Payload, error) {
	if len(mask) != c.Frames() {
		return nil, fmt.Errorf("%w: %d for %d frames", ErrMaskLength, len(mask), c.Frames())
	}
	out := make([]byte, 0, len(c.data))
	for i, keep := range mask {
		if keep {
			out = append(out, c.Plane(i)...)
		}
	}
	return &Cube{planeSize: c.planeSize, data: out}, nil
}

func (c *Cube) Append(other Payload) (Payload, error) {
	o, ok := other.(*Cube)
	if !ok {
		return nil, fmt.Errorf("%w: cube after %T", ErrKindMismatch, other)
	}
	if o.planeSize != c.planeSize {
		return nil, fmt.Errorf("%w: plane size %d after %d", ErrKindMismatch, o.planeSize, c.planeSize)
	}
	out := make([]byte, 0, len(c.data)+len(o.data))
	out = append(out, c.data...)
	out = append(out, o.data...)
	return &Cube{planeSize: c.planeSize, data: out}, nil
}

// FrameRef points at one frame of another file.
type FrameRef struct {
	Source string
	Index  uint64
}

// FrameList is the payload of a frame-list file.
type FrameList struct {
	refs []FrameRef
}

// NewFrameList copies refs into a payload.
func NewFrameList(refs []FrameRef) *FrameList {
	return &FrameList{refs: slices.Clone(refs)}
}

func (l *FrameList) Frames() int { return len(l.refs) }

// Refs returns a copy of the references in frame order.
func (l *FrameList) Refs() []FrameRef { return slices.Clone(l.refs) }

func (l *FrameList) Select(mask []bool) (Payload, error) {
	if len(mask) != len(l.refs) {
		return nil, fmt.Errorf("%w: %d for %d frames", ErrMaskLength, len(mask), len(l.refs))
	}
	out := &FrameList{}
	for i, keep := range mask {
		if keep {
			out.refs = append(out.refs, l.refs[i])
		}
	}
	return out, nil
}

func (l *FrameList) Append(other Payload) (Payload, error) {
	o, ok := other.(*FrameList)
	if !ok {
		return nil, fmt.Errorf("%w: frame list after %T", ErrKindMismatch, other)
	}
	out := &FrameList{refs: make([]FrameRef, 0, len(l.refs)+len(o.refs))}
	out.refs = append(out.refs, l.refs...)
	out.refs = append(out.refs, o.refs...)
	return out, nil
}
