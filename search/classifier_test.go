package search

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func utf16le(s string) []byte {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		panic(err)
	}
	return out
}

func TestClassifyBytes(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		want   string
		binary bool
		bom    bool
	}{
		{name: "empty", input: nil, want: "utf-8"},
		{name: "ascii", input: []byte("hello world\n"), want: "utf-8"},
		{name: "utf8_multibyte", input: []byte("grüße, 世界\n"), want: "utf-8"},
		{name: "utf8_bom", input: append([]byte{0xEF, 0xBB, 0xBF}, "hi"...), want: "utf-8", bom: true},
		{name: "utf16le_bom", input: append([]byte{0xFF, 0xFE}, utf16le("hi there")...), want: "utf-16le", bom: true},
		{name: "utf16be_bom", input: []byte{0xFE, 0xFF, 0x00, 'h', 0x00, 'i'}, want: "utf-16be", bom: true},
		{name: "utf32le_bom", input: []byte{0xFF, 0xFE, 0x00, 0x00, 'h', 0, 0, 0}, want: "utf-32le", bom: true},
		{name: "utf16le_without_bom", input: utf16le("plain ascii text in utf-16"), want: "utf-16le"},
		{name: "nul_bytes", input: []byte{'M', 'Z', 0x90, 0x00, 0x03, 0x00, 0x00, 0x00, 0x04, 0xFF, 0xFF, 0x00, 0x00, 0xB8}, binary: true},
		{name: "control_bytes", input: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0xFF, 'a'}, binary: true},
	}

	c := NewClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ClassifyBytes(tt.input)
			assert.Equal(t, tt.binary, got.Binary, "binary flag")
			if !tt.binary {
				assert.Equal(t, tt.want, got.Name, "encoding name")
			}
			assert.Equal(t, tt.bom, got.HasBOM(), "byte-order mark")
		})
	}
}

func TestClassifyTruncatedRune(t *testing.T) {
	c := &Classifier{SampleSize: 4}
	// "aé" followed by "ü": the sample cuts the second rune in half
	got := c.ClassifyBytes([]byte("aéü"))
	assert.False(t, got.Binary)
	assert.Equal(t, "utf-8", got.Name)
}

func TestClassifyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latin.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text\n"), 0o644))

	got, err := NewClassifier().Classify(path)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", got.Name)

	_, err = NewClassifier().Classify(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileAccess)
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	raw := append([]byte{0xFF, 0xFE}, utf16le("line one\nline two\n")...)
	cl := NewClassifier().ClassifyBytes(raw)
	require.Equal(t, "utf-16le", cl.Name)

	text, err := cl.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", text, "byte-order mark is dropped")

	back, err := cl.Encode(text)
	require.NoError(t, err)
	assert.Equal(t, raw, back, "byte-order mark is restored")
}

func TestEncodingFor(t *testing.T) {
	cl, err := EncodingFor("utf-16le", true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFE}, cl.BOM)

	cl, err = EncodingFor("windows-1252", false)
	require.NoError(t, err)
	text, err := cl.Decode([]byte{'c', 'a', 'f', 0xE9})
	require.NoError(t, err)
	assert.Equal(t, "café", text)

	cl, err = EncodingFor("latin1", false)
	require.NoError(t, err, "WHATWG aliases resolve")
	assert.NotEmpty(t, cl.Name)

	cl, err = EncodingFor("binary", false)
	require.NoError(t, err)
	assert.True(t, cl.Binary)

	_, err = EncodingFor("windows-1252", true)
	assert.Error(t, err, "codepages have no byte-order mark")

	_, err = EncodingFor("no-such-charset", false)
	assert.Error(t, err)
}
