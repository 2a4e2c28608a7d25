package search

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	// HTML/XML tags
	htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

	// Tags that end a visual line
	blockTagRegex = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr|/h[1-6])[^>]*>`)

	// CSS/JavaScript blocks (separate patterns since Go doesn't support backreferences)
	cssRegex = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	jsRegex  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)

	// Control characters except tab and newline
	controlCharRegex = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	spaceRunRegex    = regexp.MustCompile(`[ \t]+`)
	blankRunRegex    = regexp.MustCompile(`\n{3,}`)
)

// cleanMarkup turns HTML into plain text, one line per block element
func cleanMarkup(content string) string {
	// Remove CSS and JavaScript blocks first
	content = cssRegex.ReplaceAllString(content, "")
	content = jsRegex.ReplaceAllString(content, "")

	content = blockTagRegex.ReplaceAllString(content, "\n")
	content = htmlTagRegex.ReplaceAllString(content, " ")
	content = html.UnescapeString(content)

	return normalizeLines(content)
}

// normalizeLines drops control characters, squeezes spaces and trims every line
func normalizeLines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = controlCharRegex.ReplaceAllString(content, "")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRegex.ReplaceAllString(line, " "))
	}
	content = strings.Join(lines, "\n")
	content = blankRunRegex.ReplaceAllString(content, "\n\n")

	return strings.TrimSpace(content)
}

func decodeUTF16LE(data []byte) string {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(data)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\x00")
}

func decodeWindows1252(data []byte) string {
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\x00")
}

// minRun is the shortest run of printable characters kept by salvageText
const minRun = 4

// salvageText recovers readable runs from a binary stream, trying UTF-16LE
// and single-byte text and keeping whichever yields more
func salvageText(data []byte) string {
	wide := salvageRuns(data, 2)
	narrow := salvageRuns(data, 1)
	if utf8.RuneCountInString(wide) >= utf8.RuneCountInString(narrow) {
		return normalizeLines(wide)
	}
	return normalizeLines(narrow)
}

func salvageRuns(data []byte, width int) string {
	var b, run strings.Builder
	runLen := 0
	flush := func() {
		if runLen >= minRun {
			b.WriteString(run.String())
			b.WriteByte('\n')
		}
		run.Reset()
		runLen = 0
	}
	for i := 0; i+width <= len(data); i += width {
		c := data[i]
		if width == 2 && data[i+1] != 0 {
			flush()
			continue
		}
		switch {
		case c == '\r' || c == '\n':
			flush()
		case c == '\t' || (c >= 0x20 && c < 0x7f):
			run.WriteByte(c)
			runLen++
		default:
			flush()
		}
	}
	flush()
	return b.String()
}

// rtfSkipGroups are destinations whose content is not document text
var rtfSkipGroups = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "object": true, "header": true, "footer": true,
	"listtable": true, "listoverridetable": true, "themedata": true,
	"datastore": true, "latentstyles": true, "generator": true,
}

// rtfText strips RTF control words and groups, keeping paragraph breaks
func rtfText(data []byte) string {
	var b strings.Builder
	var pending []byte

	flushBytes := func() {
		if len(pending) > 0 {
			b.WriteString(decodeWindows1252(pending))
			pending = pending[:0]
		}
	}

	depth := 0
	skipDepth := -1
	groupStart := false

	for i := 0; i < len(data); i++ {
		c := data[i]
		switch c {
		case '{':
			depth++
			groupStart = true
			continue
		case '}':
			if skipDepth == depth {
				skipDepth = -1
			}
			depth--
			groupStart = false
			continue
		case '\r', '\n':
			continue
		case '\\':
		default:
			groupStart = false
			if skipDepth < 0 {
				pending = append(pending, c)
			}
			continue
		}

		// control word or symbol
		if i+1 >= len(data) {
			break
		}
		next := data[i+1]
		switch {
		case next == '\\' || next == '{' || next == '}':
			if skipDepth < 0 {
				pending = append(pending, next)
			}
			i++
		case next == '\'':
			if i+3 < len(data) && skipDepth < 0 {
				if v, err := strconv.ParseUint(string(data[i+2:i+4]), 16, 8); err == nil {
					pending = append(pending, byte(v))
				}
			}
			i += 3
		case next == '*':
			if groupStart && skipDepth < 0 {
				skipDepth = depth
			}
			i++
		case isASCIILetter(next):
			j := i + 1
			for j < len(data) && isASCIILetter(data[j]) {
				j++
			}
			word := string(data[i+1 : j])
			k := j
			if k < len(data) && data[k] == '-' {
				k++
			}
			for k < len(data) && data[k] >= '0' && data[k] <= '9' {
				k++
			}
			param := string(data[j:k])
			if k < len(data) && data[k] == ' ' {
				k++
			}
			i = k - 1

			if groupStart && skipDepth < 0 && rtfSkipGroups[word] {
				skipDepth = depth
			}
			if skipDepth < 0 {
				switch word {
				case "par", "line", "row":
					pending = append(pending, '\n')
				case "tab", "cell":
					pending = append(pending, '\t')
				case "u":
					if n, err := strconv.Atoi(param); err == nil {
						if n < 0 {
							n += 65536
						}
						flushBytes()
						b.WriteRune(rune(n))
						// skip the ANSI fallback character
						if i+1 < len(data) && data[i+1] == '?' {
							i++
						}
					}
				}
			}
		default:
			i++
		}
		groupStart = false
	}
	flushBytes()
	return b.String()
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
