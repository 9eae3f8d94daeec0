package extract

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"rsc.io/pdf"
)

// TextLayer returns the embedded text of a PDF. An empty string with a nil
// error means the document has no text layer (a scan).
type TextLayer interface {
	Text(ctx context.Context, content []byte) (string, error)
}

// PDFTextLayer reads page content streams with pdfcpu and collects the
// strings shown by text operators. When those strings are glyph codes rather
// than characters, as with composite fonts, it decodes them again through the
// fonts' ToUnicode maps.
type PDFTextLayer struct{}

func NewPDFTextLayer() *PDFTextLayer {
	return &PDFTextLayer{}
}

func (l *PDFTextLayer) Text(ctx context.Context, content []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(content), conf)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return "", fmt.Errorf("failed to validate pdf: %w", err)
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return "", fmt.Errorf("failed to count pages: %w", err)
	}

	var sb strings.Builder
	for page := 1; page <= pdfCtx.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r, err := pdfcpu.ExtractPageContent(pdfCtx, page)
		if err != nil {
			return "", fmt.Errorf("failed to extract content of page %d: %w", page, err)
		}
		if r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("failed to read content of page %d: %w", page, err)
		}
		if text := contentText(data); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}
	text := strings.TrimSpace(sb.String())
	if garbled(text) {
		if decoded, err := fontText(content); err == nil && decoded != "" && !garbled(decoded) {
			return decoded, nil
		}
	}
	return text, nil
}

// garbled reports text where more than a fifth of the visible runes are
// control codes, private-use or replacement characters. Glyph ids read as
// Latin-1 bytes look like that.
func garbled(text string) bool {
	var visible, bad int
	for _, r := range text {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		}
		visible++
		if unicode.IsControl(r) || unicode.Is(unicode.Co, r) || r == utf8.RuneError {
			bad++
		}
	}
	return bad*5 > visible
}

// fontText decodes the shown strings through each font's encoding and
// ToUnicode map. rsc.io/pdf panics on input it cannot parse.
func fontText(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to decode pdf fonts: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		writeGlyphs(&sb, page.Content().Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// writeGlyphs lays out positioned glyphs: a baseline move of more than half
// the font size starts a line, a gap wider than a quarter of it a word.
func writeGlyphs(sb *strings.Builder, glyphs []pdf.Text) {
	for i, g := range glyphs {
		if i > 0 {
			prev := glyphs[i-1]
			switch {
			case math.Abs(g.Y-prev.Y) > prev.FontSize/2:
				sb.WriteByte('\n')
			case g.X-(prev.X+prev.W) > prev.FontSize/4:
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(g.S)
	}
	if len(glyphs) > 0 {
		sb.WriteByte('\n')
	}
}

// kerningSpace is the TJ displacement, in thousandths of an em, treated as a word gap.
const kerningSpace = 250

// contentText collects the strings shown by the text operators of a decoded
// content stream. Positioning operators become line breaks or spaces.
func contentText(data []byte) string {
	s := &contentScanner{data: data}
	w := &textWriter{}
	var operands []token

	for {
		t, ok := s.next()
		if !ok {
			break
		}
		if t.kind != tokOperator {
			operands = append(operands, t)
			continue
		}
		switch t.text {
		case "Tj":
			w.show(lastString(operands))
		case "'", `"`:
			w.newline()
			w.show(lastString(operands))
		case "TJ":
			if n := len(operands); n > 0 && operands[n-1].kind == tokArray {
				for _, item := range operands[n-1].items {
					switch item.kind {
					case tokString:
						w.show(item.text)
					case tokNumber:
						if item.num <= -kerningSpace {
							w.space()
						}
					}
				}
			}
		case "Td", "TD":
			if n := len(operands); n >= 2 && operands[n-1].kind == tokNumber && operands[n-1].num != 0 {
				w.newline()
			} else {
				w.space()
			}
		case "T*", "Tm", "ET":
			w.newline()
		case "BI":
			s.skipInlineImage()
		}
		operands = operands[:0]
	}
	return strings.TrimSpace(w.sb.String())
}

func lastString(operands []token) string {
	if n := len(operands); n > 0 && operands[n-1].kind == tokString {
		return operands[n-1].text
	}
	return ""
}

type textWriter struct {
	sb   strings.Builder
	last byte
}

func (w *textWriter) show(s string) {
	if s == "" {
		return
	}
	w.sb.WriteString(s)
	w.last = s[len(s)-1]
}

func (w *textWriter) newline() {
	if w.sb.Len() == 0 || w.last == '\n' {
		return
	}
	w.sb.WriteByte('\n')
	w.last = '\n'
}

func (w *textWriter) space() {
	if w.sb.Len() == 0 || w.last == '\n' || w.last == ' ' {
		return
	}
	w.sb.WriteByte(' ')
	w.last = ' '
}

type tokenKind int

const (
	tokOther tokenKind = iota
	tokNumber
	tokString
	tokName
	tokArray
	tokOperator
)

type token struct {
	kind  tokenKind
	text  string
	num   float64
	items []token
}

type contentScanner struct {
	data []byte
	pos  int
}

func isSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (s *contentScanner) skipSpace() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		default:
			return
		}
	}
}

func (s *contentScanner) regular() string {
	start := s.pos
	for s.pos < len(s.data) && !isSpace(s.data[s.pos]) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

func (s *contentScanner) next() (token, bool) {
	s.skipSpace()
	if s.pos >= len(s.data) {
		return token{}, false
	}
	c := s.data[s.pos]
	switch {
	case c == '(':
		return token{kind: tokString, text: s.literal()}, true
	case c == '<':
		if s.pos+1 < len(s.data) && s.data[s.pos+1] == '<' {
			s.pos += 2
			return token{kind: tokOther, text: "<<"}, true
		}
		return token{kind: tokString, text: s.hex()}, true
	case c == '>':
		s.pos++
		if s.pos < len(s.data) && s.data[s.pos] == '>' {
			s.pos++
		}
		return token{kind: tokOther, text: ">>"}, true
	case c == '[':
		s.pos++
		var items []token
		for {
			s.skipSpace()
			if s.pos >= len(s.data) {
				break
			}
			if s.data[s.pos] == ']' {
				s.pos++
				break
			}
			item, ok := s.next()
			if !ok {
				break
			}
			items = append(items, item)
		}
		return token{kind: tokArray, items: items}, true
	case c == '/':
		s.pos++
		return token{kind: tokName, text: s.regular()}, true
	case isDelimiter(c):
		s.pos++
		return token{kind: tokOther, text: string(c)}, true
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		raw := s.regular()
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return token{kind: tokNumber, num: f, text: raw}, true
		}
		return token{kind: tokOther, text: raw}, true
	default:
		return token{kind: tokOperator, text: s.regular()}, true
	}
}

func (s *contentScanner) literal() string {
	s.pos++
	depth := 1
	var out []byte
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= len(s.data) {
				return decodePDFString(out)
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; i++ {
						v = v*8 + int(s.data[s.pos]-'0')
						s.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return decodePDFString(out)
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return decodePDFString(out)
}

func (s *contentScanner) hex() string {
	s.pos++
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		if c := s.data[s.pos]; !isSpace(c) {
			digits = append(digits, c)
		}
		s.pos++
	}
	s.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw, err := hex.DecodeString(string(digits))
	if err != nil {
		return ""
	}
	return decodePDFString(raw)
}

// skipInlineImage moves past the binary data of a BI ... ID ... EI block.
func (s *contentScanner) skipInlineImage() {
	for {
		t, ok := s.next()
		if !ok {
			return
		}
		if t.kind == tokOperator && t.text == "ID" {
			break
		}
	}
	s.pos++
	for s.pos+1 < len(s.data) {
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' &&
			isSpace(s.data[s.pos-1]) &&
			(s.pos+2 == len(s.data) || isSpace(s.data[s.pos+2])) {
			s.pos += 2
			return
		}
		s.pos++
	}
	s.pos = len(s.data)
}

// decodePDFString handles UTF-16BE strings with a byte order mark and reads
// everything else as single-byte Latin-1.
func decodePDFString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		units := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(units))
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
