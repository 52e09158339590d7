package frames

import "strings"

// Kind selects the on-disk encoding of a frame file.
type Kind int

const (
	// KindCube is a FITS image cube, one plane per frame.
	KindCube Kind = iota + 1
	// KindCompressedCube is a gzip-wrapped FITS image cube.
	KindCompressedCube
	// KindFrameList is a FITS table of references into other frame files.
	KindFrameList
)

// Extensions, longest first so that suffix matching is unambiguous.
var kindExts = []struct {
	kind Kind
	ext  string
}{
	{KindFrameList, ".fitsframes"},
	{KindCompressedCube, ".fits.gz"},
	{KindCube, ".fits"},
}

// Ext returns the filename extension, including the leading dot.
func (k Kind) Ext() string {
	for _, e := range kindExts {
		if e.kind == k {
			return e.ext
		}
	}
	return ""
}

func (k Kind) String() string {
	switch k {
	case KindCube:
		return "cube"
	case KindCompressedCube:
		return "compressed-cube"
	case KindFrameList:
		return "frame-list"
	default:
		return "unknown"
	}
}

// KindFromPath infers the kind from a filename extension.
func KindFromPath(path string) (Kind, bool) {
	for _, e := range kindExts {
		if strings.HasSuffix(path, e.ext) {
			return e.kind, true
		}
	}
	return 0, false
}

func (k Kind) isCube() bool {
	return k == KindCube || k == KindCompressedCube
}
