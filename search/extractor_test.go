package search

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"find-replace/config"
)

type panicExtractor struct{}

func (panicExtractor) ExtractText([]byte) (string, error) {
	panic("corrupt input")
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestPluginRegistryLookup(t *testing.T) {
	r := NewDefaultPluginRegistry()

	tests := []struct {
		file      string
		plugin    string
		found     bool
		container bool
	}{
		{file: "Report.PDF", plugin: "pdf", found: true},
		{file: "mail.eml", plugin: "email", found: true},
		{file: "bundle.jar", plugin: "archive", found: true, container: true},
		{file: "page.html", found: false},
		{file: "main.go", found: false},
		{file: "Makefile", found: false},
		{file: "dir.pdf/readme", found: false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			p, ok := r.Lookup(tt.file)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.plugin, p.Name)
				assert.Equal(t, tt.container, p.Container)
			}
		})
	}

	var none *PluginRegistry
	_, ok := none.Lookup("a.pdf")
	assert.False(t, ok, "nil registry has no plugins")
}

func TestPluginRegistryFromConfig(t *testing.T) {
	cfgs := config.MergePlugins(config.DefaultPlugins(), []config.PluginConfiguration{
		{Name: "html", Enabled: true},
		{Name: "pdf", Enabled: false},
		{Name: "custom", Enabled: true, Extensions: []string{"xyz"}},
	})
	r := NewPluginRegistry(cfgs)

	p, ok := r.Lookup("index.htm")
	require.True(t, ok, "html enabled by override")
	assert.Equal(t, "html", p.Name)

	_, ok = r.Lookup("a.pdf")
	assert.False(t, ok, "pdf disabled by override")

	_, ok = r.Lookup("a.xyz")
	assert.False(t, ok, "entries without a built-in extractor never match")
	assert.Len(t, r.Plugins(), len(cfgs), "every configured plugin is listed")
}

func TestPluginExtractRecoversPanic(t *testing.T) {
	p := &Plugin{Name: "broken", Extractor: panicExtractor{}, Enabled: true}
	_, _, err := p.Extract("", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	_, _, err = (&Plugin{Name: "empty"}).Extract("", nil)
	assert.Error(t, err)
}

func TestExtractors(t *testing.T) {
	tests := []struct {
		name      string
		extractor Extractor
		input     []byte
		want      string
	}{
		{
			name:      "html",
			extractor: &HTMLExtractor{},
			input:     []byte("<html><style>p{color:red}</style><p>Hello &amp; bye</p><script>var a</script></html>"),
			want:      "Hello & bye",
		},
		{
			name:      "rtf",
			extractor: &RTFExtractor{},
			input:     []byte(`{\rtf1\ansi{\fonttbl{\f0 Arial;}}\f0 Hello \b world\b0\par caf\'e9\par}`),
			want:      "Hello world\ncafé",
		},
		{
			name:      "eml",
			extractor: &EMLExtractor{},
			input:     []byte("From: a@example.com\r\nSubject: Hi\r\nContent-Type: text/plain\r\n\r\nBody   text\r\n"),
			want:      "Body text",
		},
		{
			name:      "docx",
			extractor: &DOCXExtractor{},
			input: zipBytes(t, map[string]string{
				"word/document.xml": `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
					`<w:p><w:r><w:t>First para</w:t></w:r></w:p><w:p><w:r><w:t>Second</w:t></w:r></w:p></w:body></w:document>`,
			}),
			want: "First para\nSecond\n",
		},
		{
			name:      "odt",
			extractor: &ODTExtractor{},
			input: zipBytes(t, map[string]string{
				"content.xml": `<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" ` +
					`xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0"><office:body><office:text>` +
					`<text:h>Title</text:h><text:p>Body</text:p></office:text></office:body></office:document-content>`,
			}),
			want: "Title\nBody\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.extractor.ExtractText(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractorErrors(t *testing.T) {
	_, err := (&DOCXExtractor{}).ExtractText([]byte("not a zip"))
	assert.Error(t, err)

	_, err = (&DOCXExtractor{}).ExtractText(zipBytes(t, map[string]string{"other.xml": "<a/>"}))
	assert.Error(t, err, "missing document part")

	_, err = (&MSGExtractor{}).ExtractText([]byte("plain text"))
	assert.Error(t, err, "not a compound file")
}

func TestMBOXExtractor(t *testing.T) {
	data := []byte("From a@example.com Mon Jan  1 00:00:00 2024\n" +
		"Subject: one\n\nfirst body\n\n" +
		"From b@example.com Tue Jan  2 00:00:00 2024\n" +
		"Subject: two\n\nsecond body\n")

	e := &MBOXExtractor{}
	text, err := e.ExtractText(data)
	require.NoError(t, err)
	assert.Contains(t, text, "first body")
	assert.Contains(t, text, "second body")
	assert.Equal(t, "2 messages", e.ExtractInfo(data))
}
