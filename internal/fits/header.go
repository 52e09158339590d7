package fits

import (
	"fmt"
	"math"
	"strings"
)

// Standard keywords read by the frame-file layer.
const (
	KeySimple  = "SIMPLE"
	KeyBitpix  = "BITPIX"
	KeyNaxis   = "NAXIS"
	KeyComment = "COMMENT"
	KeyHistory = "HISTORY"
)

// Card is one header record. Value holds bool, int64, float64, string, or nil
// for commentary cards (COMMENT, HISTORY, blank keyword).
type Card struct {
	Key     string
	Value   any
	Comment string
}

func isCommentary(key string) bool {
	return key == "" || key == KeyComment || key == KeyHistory
}

// Header is an ordered set of cards with keyword lookup. Assignments track a
// dirty flag so callers know when an on-disk artifact needs its header rewritten.
type Header struct {
	cards []Card
	index map[string]int
	dirty bool
}

// NewHeader returns an empty header.
func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

// NewImageHeader returns a header carrying the mandatory image keywords.
func NewImageHeader(bitpix int, axes ...int) *Header {
	h := NewHeader()
	h.Set(KeySimple, true, WithComment("conforms to FITS standard"))
	h.Set(KeyBitpix, bitpix, WithComment("array data type"))
	h.Set(KeyNaxis, len(axes), WithComment("number of array dimensions"))
	for i, n := range axes {
		h.Set(AxisKey(i+1), n)
	}
	return h
}

// AxisKey returns the NAXISn keyword for the 1-based axis n.
func AxisKey(n int) string {
	return fmt.Sprintf("NAXIS%d", n)
}

type setOptions struct {
	comment *string
	force   bool
}

// SetOption tunes a single Set call.
type SetOption func(*setOptions)

// WithComment replaces the card comment.
func WithComment(comment string) SetOption {
	return func(o *setOptions) {
		o.comment = &comment
	}
}

// ForceRewrite marks the header dirty even when the stored value is unchanged,
// so a subsequent on-disk update reformats the card.
func ForceRewrite() SetOption {
	return func(o *setOptions) {
		o.force = true
	}
}

// Set assigns a keyword value and reports whether the header changed.
func (h *Header) Set(key string, value any, opts ...SetOption) bool {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	key = normalizeKey(key)
	v := normalizeValue(value)
	if h.index == nil {
		h.index = make(map[string]int)
	}

	if i, ok := h.index[key]; ok {
		card := &h.cards[i]
		same := card.Value == v && (o.comment == nil || *o.comment == card.Comment)
		if same && !o.force {
			return false
		}
		card.Value = v
		if o.comment != nil {
			card.Comment = *o.comment
		}
		h.dirty = true
		return true
	}

	card := Card{Key: key, Value: v}
	if o.comment != nil {
		card.Comment = *o.comment
	}
	h.index[key] = len(h.cards)
	h.cards = append(h.cards, card)
	h.dirty = true
	return true
}

// AddComment appends a COMMENT card.
func (h *Header) AddComment(text string) {
	h.cards = append(h.cards, Card{Key: KeyComment, Comment: text})
	h.dirty = true
}

// AddHistory appends a HISTORY card.
func (h *Header) AddHistory(text string) {
	h.cards = append(h.cards, Card{Key: KeyHistory, Comment: text})
	h.dirty = true
}

// Delete removes a keyword.
func (h *Header) Delete(key string) {
	key = normalizeKey(key)
	i, ok := h.index[key]
	if !ok {
		return
	}
	h.cards = append(h.cards[:i], h.cards[i+1:]...)
	h.reindex()
	h.dirty = true
}

func (h *Header) reindex() {
	h.index = make(map[string]int, len(h.cards))
	for i, card := range h.cards {
		if isCommentary(card.Key) {
			continue
		}
		h.index[card.Key] = i
	}
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.index[normalizeKey(key)]
	return ok
}

// Get returns the raw value for key.
func (h *Header) Get(key string) (any, bool) {
	i, ok := h.index[normalizeKey(key)]
	if !ok {
		return nil, false
	}
	return h.cards[i].Value, true
}

// Int returns an integer keyword. Integral floats are accepted.
func (h *Header) Int(key string) (int64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	}
	return 0, false
}

// Float returns a numeric keyword as float64.
func (h *Header) Float(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// Bool returns a logical keyword.
func (h *Header) Bool(key string) (bool, bool) {
	v, ok := h.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// String returns a string keyword.
func (h *Header) String(key string) (string, bool) {
	v, ok := h.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Cards returns a copy of the cards in order.
func (h *Header) Cards() []Card {
	out := make([]Card, len(h.cards))
	copy(out, h.cards)
	return out
}

// Len returns the number of cards.
func (h *Header) Len() int {
	return len(h.cards)
}

// Dirty reports whether the header changed since the last MarkClean.
func (h *Header) Dirty() bool {
	return h.dirty
}

// MarkClean resets the dirty flag, typically after the header reached disk.
func (h *Header) MarkClean() {
	h.dirty = false
}

// Clone returns a deep copy. The clone starts clean.
func (h *Header) Clone() *Header {
	out := &Header{cards: h.Cards()}
	out.reindex()
	return out
}

func normalizeKey(key string) string {
	key = strings.ToUpper(strings.TrimSpace(key))
	if len(key) > 8 {
		key = key[:8]
	}
	return key
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		return v
	case string:
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return fmt.Sprint(v)
	}
}
