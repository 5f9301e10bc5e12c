package adversarial

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	entityRegex     = regexp.MustCompile(`&#(x[0-9a-fA-F]+|[0-9]+);`)
	whitespaceRegex = regexp.MustCompile(`\s+`)

	// Marked base64 segments: explicit "base64:" / "base64," markers and
	// data-URI style ";base64," payloads. Unmarked runs are left alone.
	markedBase64Regex = regexp.MustCompile(`(?i)(base64[:,]\s*)([A-Za-z0-9+/]{16,}={0,2})`)
)

// Normalize canonicalizes text before rule matching. The chain: NFC
// normalization, invisible code point stripping, percent and numeric HTML
// entity decoding (repeated until stable, so double-encoding cannot hide a
// payload), marked base64 decoding, whitespace collapsing. Output is
// deterministic for a given input.
func Normalize(input string) string {
	s := norm.NFC.String(input)
	s = stripInvisible(s)
	s = decodeUntilStable(s, decodePercent)
	s = decodeUntilStable(s, decodeEntities)
	s = decodeMarkedBase64(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// stripInvisible removes zero-width code points and soft hyphens, and maps
// non-breaking spaces to plain spaces so they cannot split keywords.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
			return -1
		case '\u00a0':
			return ' '
		}
		return r
	}, s)
}

// decodeUntilStable applies a shrinking decoder until it stops changing the
// input. Both percent and entity decoding strictly shrink, so this
// terminates.
func decodeUntilStable(s string, decode func(string) string) string {
	for i := 0; i < 8; i++ {
		next := decode(s)
		if next == s {
			return s
		}
		s = next
	}
	return s
}

// decodePercent decodes %XX escapes in place, leaving malformed escapes
// untouched. url.QueryUnescape rejects the whole string on one bad escape,
// which adversarial input is full of, so this walks byte by byte.
func decodePercent(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// decodeEntities decodes numeric HTML entities (&#65; and &#x41; forms).
// Named entities are left alone.
func decodeEntities(s string) string {
	if !strings.Contains(s, "&#") {
		return s
	}

	return entityRegex.ReplaceAllStringFunc(s, func(m string) string {
		body := m[2 : len(m)-1]
		var code int64
		var err error
		if body[0] == 'x' || body[0] == 'X' {
			code, err = strconv.ParseInt(body[1:], 16, 32)
		} else {
			code, err = strconv.ParseInt(body, 10, 32)
		}
		if err != nil || code <= 0 || code > utf8.MaxRune || !utf8.ValidRune(rune(code)) {
			return m
		}
		return string(rune(code))
	})
}

// decodeMarkedBase64 replaces the payload of marked base64 segments with the
// decoded text when it decodes to mostly printable UTF-8. The marker itself
// is kept so smuggle-detection rules still see it.
func decodeMarkedBase64(s string) string {
	if !strings.Contains(strings.ToLower(s), "base64") {
		return s
	}

	return markedBase64Regex.ReplaceAllStringFunc(s, func(m string) string {
		sub := markedBase64Regex.FindStringSubmatch(m)
		if sub == nil {
			return m
		}
		marker, payload := sub[1], sub[2]

		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil || !mostlyPrintable(decoded) {
			return m
		}
		return marker + string(decoded)
	})
}

// mostlyPrintable reports whether decoded bytes are valid UTF-8 with at
// least 85% printable runes. Binary blobs that happen to be valid base64
// fail this and stay encoded.
func mostlyPrintable(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}

	total, printable := 0, 0
	for _, r := range string(b) {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable)/float64(total) >= 0.85
}
