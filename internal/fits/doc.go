// Package fits reads and writes the single-HDU FITS layout used for frame
// cubes: an ASCII header of 80-column cards padded to 2880-byte blocks,
// followed by the raw big-endian data array padded the same way.
//
// Only what the frame-file layer needs is supported. Headers are ordered,
// typed card lists whose assignments report whether anything changed; callers
// that must reformat an unchanged card pass ForceRewrite explicitly.
package fits
