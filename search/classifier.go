package search

import (
	"bytes"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

const (
	// DefaultSampleSize is how much of a file the heuristic looks at
	DefaultSampleSize = 64 * 1024

	minCharsetConfidence = 10
	maxControlPercent    = 10
)

type codepage struct {
	name string
	enc  encoding.Encoding
}

// codepages maps Windows codepage numbers to decoders
var codepages = map[int]codepage{
	437:   {"ibm437", charmap.CodePage437},
	850:   {"ibm850", charmap.CodePage850},
	866:   {"ibm866", charmap.CodePage866},
	932:   {"shift_jis", japanese.ShiftJIS},
	936:   {"gbk", simplifiedchinese.GBK},
	949:   {"euc-kr", korean.EUCKR},
	950:   {"big5", traditionalchinese.Big5},
	1200:  {"utf-16le", unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)},
	1201:  {"utf-16be", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)},
	1250:  {"windows-1250", charmap.Windows1250},
	1251:  {"windows-1251", charmap.Windows1251},
	1252:  {"windows-1252", charmap.Windows1252},
	1253:  {"windows-1253", charmap.Windows1253},
	1254:  {"windows-1254", charmap.Windows1254},
	1255:  {"windows-1255", charmap.Windows1255},
	1256:  {"windows-1256", charmap.Windows1256},
	1257:  {"windows-1257", charmap.Windows1257},
	1258:  {"windows-1258", charmap.Windows1258},
	10000: {"macintosh", charmap.Macintosh},
	12000: {"utf-32le", utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM)},
	12001: {"utf-32be", utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM)},
	20866: {"koi8-r", charmap.KOI8R},
	21866: {"koi8-u", charmap.KOI8U},
	28591: {"iso-8859-1", charmap.ISO8859_1},
	28592: {"iso-8859-2", charmap.ISO8859_2},
	28595: {"iso-8859-5", charmap.ISO8859_5},
	28597: {"iso-8859-7", charmap.ISO8859_7},
	28605: {"iso-8859-15", charmap.ISO8859_15},
	50220: {"iso-2022-jp", japanese.ISO2022JP},
	51932: {"euc-jp", japanese.EUCJP},
	54936: {"gb18030", simplifiedchinese.GB18030},
	65001: {"utf-8", unicode.UTF8},
}

var encodingsByName = func() map[string]encoding.Encoding {
	m := make(map[string]encoding.Encoding, len(codepages))
	for _, cp := range codepages {
		m[cp.name] = cp.enc
	}
	return m
}()

var boms = []struct {
	name string
	mark []byte
}{
	// UTF-32LE before UTF-16LE, they share a prefix
	{"utf-32le", []byte{0xFF, 0xFE, 0x00, 0x00}},
	{"utf-32be", []byte{0x00, 0x00, 0xFE, 0xFF}},
	{"utf-8", []byte{0xEF, 0xBB, 0xBF}},
	{"utf-16le", []byte{0xFF, 0xFE}},
	{"utf-16be", []byte{0xFE, 0xFF}},
}

// Classification is the outcome of encoding and binary detection
type Classification struct {
	Encoding   encoding.Encoding
	Name       string
	BOM        []byte
	Binary     bool
	Ambiguous  bool
	Confidence int
}

// HasBOM reports whether content starts with a byte-order mark
func (c Classification) HasBOM() bool {
	return len(c.BOM) > 0
}

// Decode converts raw file bytes to text, dropping the byte-order mark
func (c Classification) Decode(raw []byte) (string, error) {
	if len(c.BOM) > 0 && bytes.HasPrefix(raw, c.BOM) {
		raw = raw[len(c.BOM):]
	}
	if c.Encoding == nil || c.Name == "utf-8" {
		return string(raw), nil
	}
	out, err := c.Encoding.NewDecoder().Bytes(raw)
	if err != nil {
		return "", errors.Errorf("decoding %s: %w", c.Name, err)
	}
	return string(out), nil
}

// Encode converts text back to the original encoding, restoring the byte-order mark
func (c Classification) Encode(text string) ([]byte, error) {
	var body []byte
	if c.Encoding == nil || c.Name == "utf-8" {
		body = []byte(text)
	} else {
		out, err := c.Encoding.NewEncoder().Bytes([]byte(text))
		if err != nil {
			return nil, errors.Errorf("encoding %s: %w", c.Name, err)
		}
		body = out
	}
	if len(c.BOM) == 0 {
		return body, nil
	}
	return append(append(make([]byte, 0, len(c.BOM)+len(body)), c.BOM...), body...), nil
}

// EncodingFor rebuilds a text Classification from a recorded encoding name
func EncodingFor(name string, hasBOM bool) (Classification, error) {
	if name == rawBytes.Name {
		return rawBytes, nil
	}
	enc, canonical, ok := resolveCharset(name)
	if !ok {
		return Classification{}, errors.Errorf("unknown encoding %q", name)
	}
	c := Classification{Encoding: enc, Name: canonical}
	if hasBOM {
		for _, b := range boms {
			if b.name == canonical {
				c.BOM = b.mark
				break
			}
		}
		if len(c.BOM) == 0 {
			return Classification{}, errors.Errorf("encoding %q has no byte-order mark", name)
		}
	}
	return c, nil
}

// rawBytes searches binary content byte for byte, so offsets are file positions
var rawBytes = Classification{Name: "binary", Binary: true}

var utf8Text = Classification{Encoding: unicode.UTF8, Name: "utf-8"}

// Classifier detects encoding and binary status from a bounded prefix
type Classifier struct {
	SampleSize int
}

// NewClassifier returns a classifier sampling DefaultSampleSize bytes
func NewClassifier() *Classifier {
	return &Classifier{SampleSize: DefaultSampleSize}
}

// Classify reads the head of path and classifies it
func (c *Classifier) Classify(path string) (Classification, error) {
	f, err := os.Open(path)
	if err != nil {
		return Classification{}, accessError("open", path, err)
	}
	defer f.Close()

	buf := make([]byte, c.sampleSize())
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Classification{}, accessError("read", path, err)
	}
	dropPageCache(f)
	return c.ClassifyBytes(buf[:n]), nil
}

// ClassifyBytes classifies content from its first bytes.
// BOM sniffing wins, then NUL and control-byte ratios, then statistical charset detection.
func (c *Classifier) ClassifyBytes(prefix []byte) Classification {
	if len(prefix) > c.sampleSize() {
		prefix = prefix[:c.sampleSize()]
	}

	for _, b := range boms {
		if bytes.HasPrefix(prefix, b.mark) {
			return Classification{Encoding: encodingsByName[b.name], Name: b.name, BOM: b.mark, Confidence: 100}
		}
	}

	if len(prefix) == 0 {
		return utf8Text
	}

	if name, ok := sniffUTF16(prefix); ok {
		return Classification{Encoding: encodingsByName[name], Name: name, Confidence: 50}
	}

	if bytes.IndexByte(prefix, 0) >= 0 {
		return Classification{Binary: true, Confidence: 100}
	}

	if utf8.Valid(trimPartialRune(prefix)) {
		return utf8Text
	}

	if controlBytes(prefix)*100 > len(prefix)*maxControlPercent {
		return Classification{Binary: true, Confidence: 90}
	}

	res, err := chardet.NewTextDetector().DetectBest(prefix)
	if err != nil || res.Confidence < minCharsetConfidence {
		return Classification{Binary: true, Ambiguous: true}
	}
	enc, name, ok := resolveCharset(res.Charset)
	if !ok || name == "utf-8" {
		return Classification{Binary: true, Ambiguous: true, Confidence: res.Confidence}
	}
	return Classification{Encoding: enc, Name: name, Confidence: res.Confidence}
}

// forcedClassification decodes with an explicit encoding; only a matching BOM is still detected
func forcedClassification(prefix []byte, enc encoding.Encoding, name string) Classification {
	c := Classification{Encoding: enc, Name: name, Confidence: 100}
	for _, b := range boms {
		if b.name == name && bytes.HasPrefix(prefix, b.mark) {
			c.BOM = b.mark
			break
		}
	}
	return c
}

func (c *Classifier) sampleSize() int {
	if c == nil || c.SampleSize <= 0 {
		return DefaultSampleSize
	}
	return c.SampleSize
}

// resolveCharset prefers the local codepage table and falls back to the WHATWG index
func resolveCharset(name string) (encoding.Encoding, string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if enc, ok := encodingsByName[key]; ok {
		return enc, key, true
	}
	enc, err := htmlindex.Get(key)
	if err != nil {
		enc, err = htmlindex.Get(strings.ReplaceAll(key, "-", ""))
		if err != nil {
			return nil, "", false
		}
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = key
	}
	if direct, ok := encodingsByName[canonical]; ok {
		return direct, canonical, true
	}
	return enc, canonical, true
}

// sniffUTF16 spots BOM-less UTF-16 by the zero high bytes of ASCII-range text
func sniffUTF16(p []byte) (string, bool) {
	pairs := len(p) / 2
	if pairs < 2 {
		return "", false
	}
	var evenZero, oddZero int
	for i := 0; i+1 < len(p); i += 2 {
		if p[i] == 0 {
			evenZero++
		}
		if p[i+1] == 0 {
			oddZero++
		}
	}
	switch {
	case oddZero*10 >= pairs*4 && evenZero*20 <= pairs:
		return "utf-16le", true
	case evenZero*10 >= pairs*4 && oddZero*20 <= pairs:
		return "utf-16be", true
	}
	return "", false
}

// trimPartialRune drops a multi-byte sequence cut off by the sample boundary
func trimPartialRune(p []byte) []byte {
	for k := len(p) - 1; k >= 0 && k >= len(p)-utf8.UTFMax; k-- {
		if utf8.RuneStart(p[k]) {
			if !utf8.FullRune(p[k:]) {
				return p[:k]
			}
			break
		}
	}
	return p
}

func controlBytes(p []byte) int {
	n := 0
	for _, b := range p {
		if b < 0x20 {
			switch b {
			case '\t', '\n', '\r', '\f', '\v', 0x1b:
				continue
			}
			n++
		}
	}
	return n
}
