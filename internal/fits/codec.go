package fits

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

const (
	// BlockSize is the FITS logical record length.
	BlockSize = 2880
	// CardSize is the length of one header card.
	CardSize = 80

	endCard = "END"
)

// ErrMalformed reports a stream that does not follow the FITS block layout.
var ErrMalformed = errors.New("malformed fits stream")

// ReadHeader consumes header blocks up to and including the END card.
func ReadHeader(r io.Reader) (*Header, error) {
	h := NewHeader()
	block := make([]byte, BlockSize)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: header not terminated by END", ErrMalformed)
			}
			return nil, err
		}
		for off := 0; off < BlockSize; off += CardSize {
			raw := string(block[off : off+CardSize])
			if strings.TrimRight(raw, " ") == endCard {
				h.MarkClean()
				return h, nil
			}
			if strings.TrimSpace(raw) == "" {
				continue
			}
			card, err := parseCard(raw)
			if err != nil {
				return nil, err
			}
			if isCommentary(card.Key) {
				h.cards = append(h.cards, card)
				continue
			}
			h.Set(card.Key, card.Value, WithComment(card.Comment))
		}
	}
}

// Decode reads a header and its data array. Corrupt or truncated streams
// report ErrMalformed; failures of the underlying file are returned as is.
func Decode(r io.Reader) (*Header, []byte, error) {
	src := &sourceReader{r: r}
	hdu, err := decodeHDU(src)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(src.err, &pathErr) {
			return nil, nil, src.err
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, nil, fmt.Errorf("%w: primary HDU is not an image", ErrMalformed)
	}
	h, err := fromFitsio(img.Header())
	if err != nil {
		return nil, nil, err
	}
	size, err := DataSize(h)
	if err != nil {
		return nil, nil, err
	}
	data := img.Raw()
	if int64(len(data)) != size {
		return nil, nil, fmt.Errorf("%w: short data array: %d of %d bytes", ErrMalformed, len(data), size)
	}
	return h, data, nil
}

// decodeHDU reads the primary HDU. fitsio panics on some malformed headers
// (duplicate keywords, non-integer NAXIS), so panics become errors.
func decodeHDU(r io.Reader) (hdu fitsio.HDU, err error) {
	defer func() {
		if p := recover(); p != nil {
			hdu, err = nil, fmt.Errorf("invalid header: %v", p)
		}
	}()
	hdu, err = fitsio.NewDecoder(bufio.NewReader(r)).DecodeHDU()
	if errors.Is(err, io.EOF) {
		err = errors.New("empty stream")
	}
	return hdu, err
}

// fromFitsio copies the cards of a decoded header, dropping blank padding
// cards and END.
func fromFitsio(src *fitsio.Header) (*Header, error) {
	end := src.Index(endCard)
	if end < 0 {
		return nil, fmt.Errorf("%w: header not terminated by END", ErrMalformed)
	}
	h := NewHeader()
	for i := range end {
		c := src.Card(i)
		if isCommentary(c.Name) {
			if c.Name == "" && c.Comment == "" {
				continue
			}
			h.cards = append(h.cards, Card{Key: c.Name, Comment: c.Comment})
			continue
		}
		h.Set(c.Name, c.Value, WithComment(c.Comment))
	}
	h.MarkClean()
	return h, nil
}

// sourceReader remembers the last non-EOF error of the wrapped reader, so
// file errors can be told apart from bad content.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}

// DataSize returns the byte length of the data array described by h.
func DataSize(h *Header) (int64, error) {
	bitpix, ok := h.Int(KeyBitpix)
	if !ok {
		return 0, fmt.Errorf("%w: missing BITPIX", ErrMalformed)
	}
	naxis, ok := h.Int(KeyNaxis)
	if !ok {
		return 0, fmt.Errorf("%w: missing NAXIS", ErrMalformed)
	}
	if naxis == 0 {
		return 0, nil
	}
	if bitpix < 0 {
		bitpix = -bitpix
	}
	size := bitpix / 8
	for i := 1; i <= int(naxis); i++ {
		n, ok := h.Int(AxisKey(i))
		if !ok || n < 0 {
			return 0, fmt.Errorf("%w: bad %s", ErrMalformed, AxisKey(i))
		}
		size *= n
	}
	return size, nil
}

// Encode writes h and data as a single primary HDU. Mandatory keywords are
// emitted first regardless of their position in h.
func Encode(w io.Writer, h *Header, data []byte) error {
	size, err := DataSize(h)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("%w: data length %d does not match header size %d", ErrMalformed, len(data), size)
	}

	bw := bufio.NewWriter(w)
	written := 0
	emit := func(card string) error {
		written += CardSize
		_, err := bw.WriteString(card)
		return err
	}

	naxis, _ := h.Int(KeyNaxis)
	mandatory := map[string]struct{}{KeySimple: {}, KeyBitpix: {}, KeyNaxis: {}}
	order := []string{KeySimple, KeyBitpix, KeyNaxis}
	for i := 1; i <= int(naxis); i++ {
		order = append(order, AxisKey(i))
		mandatory[AxisKey(i)] = struct{}{}
	}
	for _, key := range order {
		i, ok := h.index[key]
		if !ok {
			if key == KeySimple {
				if err := emit(formatCard(Card{Key: KeySimple, Value: true})); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("%w: missing %s", ErrMalformed, key)
		}
		if err := emit(formatCard(h.cards[i])); err != nil {
			return err
		}
	}
	for _, card := range h.cards {
		if _, ok := mandatory[card.Key]; ok {
			continue
		}
		if err := emit(formatCard(card)); err != nil {
			return err
		}
	}
	if err := emit(padCard(endCard)); err != nil {
		return err
	}
	if pad := padding(written); pad > 0 {
		if _, err := bw.WriteString(strings.Repeat(" ", pad)); err != nil {
			return err
		}
	}

	if _, err := bw.Write(data); err != nil {
		return err
	}
	if pad := padding(len(data)); pad > 0 {
		if _, err := bw.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func padding(n int) int {
	if rem := n % BlockSize; rem != 0 {
		return BlockSize - rem
	}
	return 0
}

func padCard(s string) string {
	if len(s) >= CardSize {
		return s[:CardSize]
	}
	return s + strings.Repeat(" ", CardSize-len(s))
}

func formatCard(card Card) string {
	if isCommentary(card.Key) {
		return padCard(fmt.Sprintf("%-8s%s", card.Key, card.Comment))
	}
	var value string
	switch v := card.Value.(type) {
	case nil:
		value = ""
	case bool:
		flag := "F"
		if v {
			flag = "T"
		}
		value = fmt.Sprintf("%20s", flag)
	case int64:
		value = fmt.Sprintf("%20d", v)
	case float64:
		value = fmt.Sprintf("%20s", formatFloat(v))
	case string:
		quoted := strings.ReplaceAll(v, "'", "''")
		if len(quoted) < 8 {
			quoted += strings.Repeat(" ", 8-len(quoted))
		}
		value = "'" + quoted + "'"
	}
	line := fmt.Sprintf("%-8s= %s", card.Key, value)
	if card.Comment != "" {
		line += " / " + card.Comment
	}
	return padCard(line)
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'G', -1, 64)
	if !strings.ContainsAny(s, ".EIN") {
		s += ".0"
	}
	return s
}

func parseCard(raw string) (Card, error) {
	key := strings.TrimSpace(raw[:8])
	if isCommentary(key) || raw[8:10] != "= " {
		return Card{Key: key, Comment: strings.TrimRight(raw[8:], " ")}, nil
	}

	rest := strings.TrimLeft(raw[10:], " ")
	if strings.HasPrefix(rest, "'") {
		var sb strings.Builder
		i := 1
		for ; i < len(rest); i++ {
			if rest[i] != '\'' {
				sb.WriteByte(rest[i])
				continue
			}
			if i+1 < len(rest) && rest[i+1] == '\'' {
				sb.WriteByte('\'')
				i++
				continue
			}
			break
		}
		if i >= len(rest) {
			return Card{}, fmt.Errorf("%w: unterminated string in %q", ErrMalformed, key)
		}
		card := Card{Key: key, Value: strings.TrimRight(sb.String(), " ")}
		if idx := strings.IndexByte(rest[i+1:], '/'); idx >= 0 {
			card.Comment = strings.TrimSpace(rest[i+1+idx+1:])
		}
		return card, nil
	}

	valueStr := rest
	comment := ""
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		valueStr = rest[:idx]
		comment = strings.TrimSpace(rest[idx+1:])
	}
	valueStr = strings.TrimSpace(valueStr)

	card := Card{Key: key, Comment: comment}
	switch {
	case valueStr == "":
	case valueStr == "T":
		card.Value = true
	case valueStr == "F":
		card.Value = false
	default:
		if n, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
			card.Value = n
			break
		}
		f, err := strconv.ParseFloat(strings.Replace(valueStr, "D", "E", 1), 64)
		if err != nil {
			return Card{}, fmt.Errorf("%w: bad value %q for %s", ErrMalformed, valueStr, key)
		}
		card.Value = f
	}
	return card, nil
}
