package search

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/emersion/go-mbox"
	"github.com/jhillyerd/enmime"
	"github.com/ledongthuc/pdf"
	"github.com/richardlehane/mscfb"
	"gitlab.com/tozd/go/errors"

	"find-replace/config"
	pdfcpu "find-replace/search/pdf"
)

// Extractor defines the interface for extracting text from binary or encoded document formats
type Extractor interface {
	// ExtractText takes raw file bytes and returns extracted plain text
	ExtractText(data []byte) (string, error)
}

// InfoExtractor is implemented by extractors that can describe a document, e.g. an email subject
type InfoExtractor interface {
	ExtractInfo(data []byte) string
}

// FileExtractor is implemented by extractors that work better from a path on disk
type FileExtractor interface {
	ExtractFile(path string) (string, error)
}

// Plugin binds an extractor to the extensions it handles
type Plugin struct {
	Name        string
	Extensions  []string
	Extractor   Extractor
	Enabled     bool
	PreviewText bool

	// Container plugins enumerate members instead of extracting text
	Container bool
}

// PluginRegistry maps lower-case extensions to plugins. It is read-only once built.
type PluginRegistry struct {
	plugins []*Plugin
	byExt   map[string]*Plugin
}

// builtIns holds the extractor for each known plugin name
var builtIns = map[string]func() Extractor{
	"email":        func() Extractor { return &EMLExtractor{} },
	"mbox":         func() Extractor { return &MBOXExtractor{} },
	"msg":          func() Extractor { return &MSGExtractor{} },
	"pdf":          func() Extractor { return &PDFExtractor{} },
	"word":         func() Extractor { return &DOCXExtractor{} },
	"word97":       func() Extractor { return &DOCExtractor{} },
	"opendocument": func() Extractor { return &ODTExtractor{} },
	"rtf":          func() Extractor { return &RTFExtractor{} },
	"html":         func() Extractor { return &HTMLExtractor{} },
}

// NewPluginRegistry builds a registry from plugin configuration.
// Entries naming no built-in extractor are kept but never match.
func NewPluginRegistry(cfgs []config.PluginConfiguration) *PluginRegistry {
	r := &PluginRegistry{byExt: make(map[string]*Plugin)}
	for _, c := range cfgs {
		p := Plugin{
			Name:        c.Name,
			Extensions:  append([]string(nil), c.Extensions...),
			Enabled:     c.Enabled,
			PreviewText: c.PreviewTextEnabled,
		}
		name := strings.ToLower(c.Name)
		if name == "archive" {
			p.Container = true
		} else if ctor, ok := builtIns[name]; ok {
			p.Extractor = ctor()
		}
		r.Register(p)
	}
	return r
}

// NewDefaultPluginRegistry builds a registry with the built-in plugin set
func NewDefaultPluginRegistry() *PluginRegistry {
	return NewPluginRegistry(config.DefaultPlugins())
}

// Register adds a plugin; later registrations win for shared extensions
func (r *PluginRegistry) Register(p Plugin) {
	plugin := &p
	r.plugins = append(r.plugins, plugin)
	if plugin.Extractor == nil && !plugin.Container {
		return
	}
	for _, ext := range plugin.Extensions {
		r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = plugin
	}
}

// Lookup returns the enabled plugin handling filename's extension
func (r *PluginRegistry) Lookup(filename string) (*Plugin, bool) {
	if r == nil {
		return nil, false
	}
	ext := extension(filename)
	if ext == "" {
		return nil, false
	}
	p, ok := r.byExt[ext]
	if !ok || !p.Enabled {
		return nil, false
	}
	return p, true
}

// Plugins returns a copy of every registered plugin in registration order
func (r *PluginRegistry) Plugins() []Plugin {
	out := make([]Plugin, len(r.plugins))
	for i, p := range r.plugins {
		out[i] = *p
	}
	return out
}

func extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 || strings.ContainsAny(filename[i:], `/\`) {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// Extract runs the plugin's extractor with panic protection. path may be empty for archive members.
func (p *Plugin) Extract(path string, data []byte) (text, info string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%s extractor panicked: %v", p.Name, r)
		}
	}()

	if p.Extractor == nil {
		return "", "", errors.Errorf("plugin %s has no extractor", p.Name)
	}

	text, err = p.extractText(path, data)
	if err != nil {
		return "", "", err
	}
	if ie, ok := p.Extractor.(InfoExtractor); ok {
		info = ie.ExtractInfo(data)
	}
	return text, info, nil
}

func (p *Plugin) extractText(path string, data []byte) (string, error) {
	if fe, ok := p.Extractor.(FileExtractor); ok && path != "" {
		if text, err := fe.ExtractFile(path); err == nil {
			return text, nil
		}
	}
	return p.Extractor.ExtractText(data)
}

// HTMLExtractor extracts text from .html files
type HTMLExtractor struct{}

func (e *HTMLExtractor) ExtractText(data []byte) (string, error) {
	return cleanMarkup(string(data)), nil
}

// EMLExtractor extracts text from .eml files (MIME messages)
type EMLExtractor struct{}

// ExtractText returns the plain body, or the HTML body as text
func (e *EMLExtractor) ExtractText(data []byte) (string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return "", errors.Errorf("failed to parse EML: %w", err)
	}

	text := env.Text
	if text == "" && env.HTML != "" {
		text = cleanMarkup(env.HTML)
	}
	return normalizeLines(text), nil
}

// ExtractInfo returns the subject and date headers
func (e *EMLExtractor) ExtractInfo(data []byte) string {
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return headerInfo(env.GetHeader("Subject"), env.GetHeader("Date"))
}

func headerInfo(subject, date string) string {
	var parts []string
	if s := strings.TrimSpace(subject); s != "" {
		parts = append(parts, "Subject: "+s)
	}
	if d := strings.TrimSpace(date); d != "" {
		parts = append(parts, "Date: "+d)
	}
	return strings.Join(parts, "; ")
}

// MBOXExtractor concatenates the text of every message in an mbox file
type MBOXExtractor struct{}

func (e *MBOXExtractor) ExtractText(data []byte) (string, error) {
	var text strings.Builder
	err := eachMessage(data, func(msg []byte) {
		extracted, err := (&EMLExtractor{}).ExtractText(msg)
		if err != nil {
			return
		}
		text.WriteString(extracted)
		text.WriteString("\n---\n")
	})
	if err != nil {
		return "", err
	}
	return text.String(), nil
}

// ExtractInfo reports the message count
func (e *MBOXExtractor) ExtractInfo(data []byte) string {
	n := 0
	_ = eachMessage(data, func([]byte) { n++ })
	return fmt.Sprintf("%d messages", n)
}

func eachMessage(data []byte, fn func(msg []byte)) error {
	reader := mbox.NewReader(bytes.NewReader(data))
	for {
		msg, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Errorf("reading mbox: %w", err)
		}
		content, err := io.ReadAll(msg)
		if err != nil {
			continue
		}
		fn(content)
	}
}

// PDFExtractor extracts text from .pdf files
type PDFExtractor struct {
	PageCap int
}

// ExtractFile uses the pdfcpu backend when the binary is built with it
func (e *PDFExtractor) ExtractFile(path string) (string, error) {
	return pdfcpu.ExtractText(path, pdfcpu.Limits{Pages: e.PageCap})
}

// ExtractText reads page text with ledongthuc/pdf
func (e *PDFExtractor) ExtractText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Errorf("opening PDF: %w", err)
	}

	// NumPage panics on some malformed files
	pages := 0
	func() {
		defer func() { _ = recover() }()
		pages = reader.NumPage()
	}()
	if e.PageCap > 0 && pages > e.PageCap {
		pages = e.PageCap
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		func() {
			defer func() { _ = recover() }()
			page := reader.Page(i)
			if page.V.IsNull() {
				return
			}
			for _, item := range page.Content().Text {
				b.WriteString(item.S)
			}
			b.WriteString("\n")
		}()
	}
	return b.String(), nil
}

// zipEntry reads one named member of a zip-based document
func zipEntry(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Errorf("opening document container: %w", err)
	}
	for _, file := range zr.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, errors.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, errors.Errorf("reading %s: %w", name, err)
		}
		return content, nil
	}
	return nil, errors.Errorf("document has no %s", name)
}

// paragraphText writes one line per paragraph element (local names in paras)
func paragraphText(content []byte, paras ...string) (string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return "", errors.Errorf("parsing document XML: %w", err)
	}
	var b strings.Builder
	var walk func(n *xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != xmlquery.ElementNode {
				continue
			}
			if slices.Contains(paras, c.Data) {
				b.WriteString(c.InnerText())
				b.WriteByte('\n')
				continue
			}
			walk(c)
		}
	}
	walk(doc)
	return b.String(), nil
}

// DOCXExtractor reads word/document.xml from a .docx package
type DOCXExtractor struct{}

func (e *DOCXExtractor) ExtractText(data []byte) (string, error) {
	content, err := zipEntry(data, "word/document.xml")
	if err != nil {
		return "", err
	}
	return paragraphText(content, "p")
}

// ODTExtractor reads content.xml from an OpenDocument package
type ODTExtractor struct{}

func (e *ODTExtractor) ExtractText(data []byte) (string, error) {
	content, err := zipEntry(data, "content.xml")
	if err != nil {
		return "", err
	}
	return paragraphText(content, "p", "h")
}

// compound file stream names used by Outlook messages
const (
	msgBodyUnicode    = "__substg1.0_1000001F"
	msgBodyANSI       = "__substg1.0_1000001E"
	msgSubjectUnicode = "__substg1.0_0037001F"
	msgSubjectANSI    = "__substg1.0_0037001E"
)

// readStreams collects the named top-level streams of a compound file
func readStreams(data []byte, names ...string) (map[string][]byte, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Errorf("opening compound file: %w", err)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make(map[string][]byte)
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if !want[entry.Name] || nested(entry.Path) {
			continue
		}
		if _, seen := out[entry.Name]; seen {
			continue
		}
		content, rerr := io.ReadAll(entry)
		if rerr != nil {
			continue
		}
		out[entry.Name] = content
	}
	return out, nil
}

// nested reports whether a stream lives inside an attachment or recipient storage
func nested(path []string) bool {
	for _, p := range path {
		if strings.HasPrefix(p, "__attach") || strings.HasPrefix(p, "__recip") {
			return true
		}
	}
	return false
}

// MSGExtractor extracts text from .msg files (Outlook messages)
type MSGExtractor struct{}

// ExtractText returns the body stream, Unicode preferred over ANSI
func (e *MSGExtractor) ExtractText(data []byte) (string, error) {
	streams, err := readStreams(data, msgBodyUnicode, msgBodyANSI)
	if err != nil {
		return "", err
	}
	if body, ok := streams[msgBodyUnicode]; ok {
		return normalizeLines(decodeUTF16LE(body)), nil
	}
	if body, ok := streams[msgBodyANSI]; ok {
		return normalizeLines(decodeWindows1252(body)), nil
	}
	return "", nil
}

// ExtractInfo returns the message subject
func (e *MSGExtractor) ExtractInfo(data []byte) string {
	streams, err := readStreams(data, msgSubjectUnicode, msgSubjectANSI)
	if err != nil {
		return ""
	}
	if s, ok := streams[msgSubjectUnicode]; ok {
		return headerInfo(decodeUTF16LE(s), "")
	}
	if s, ok := streams[msgSubjectANSI]; ok {
		return headerInfo(decodeWindows1252(s), "")
	}
	return ""
}

// DOCExtractor salvages text from Word 97-2003 .doc files
type DOCExtractor struct{}

// ExtractText implements the Extractor interface for DOC files
func (e *DOCExtractor) ExtractText(data []byte) (string, error) {
	streams, err := readStreams(data, "WordDocument")
	if err != nil {
		return "", err
	}
	body, ok := streams["WordDocument"]
	if !ok {
		return "", errors.New("no WordDocument stream")
	}
	return salvageText(body), nil
}

// RTFExtractor extracts text from .rtf files (Rich Text Format)
type RTFExtractor struct{}

func (e *RTFExtractor) ExtractText(data []byte) (string, error) {
	return normalizeLines(rtfText(data)), nil
}
