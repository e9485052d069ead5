package source

import (
	"regexp"
	"strings"
)

const identifier = `([A-Za-z_$][A-Za-z0-9_$]*)`

// lead rejects member access such as Foo.class and identifier suffixes.
const lead = `(?:^|[^.\w$])`

// nameMatchers run in order over comment- and string-free source. The first
// hit names the unit.
var nameMatchers = []*regexp.Regexp{
	regexp.MustCompile(`(?m)` + lead + `public\s+(?:(?:final|abstract|sealed|non-sealed|strictfp|static)\s+)*(?:class|enum|interface|@\s*interface|record)\s+` + identifier),
	regexp.MustCompile(`(?m)` + lead + `(?:(?:final|abstract)\s+)*class\s+` + identifier),
	regexp.MustCompile(`(?m)` + lead + `enum\s+` + identifier),
	regexp.MustCompile(`(?m)` + lead + `(?:@\s*interface|interface)\s+` + identifier),
	regexp.MustCompile(`(?m)` + lead + `record\s+` + identifier + `\s*[(<]`),
}

var packagePattern = regexp.MustCompile(`(?m)^\s*package\s+([A-Za-z_$][\w$]*(?:\s*\.\s*[A-Za-z_$][\w$]*)*)\s*;`)

var blank = regexp.MustCompile(`\s+`)

// DeriveName returns the type name that the source declares first by
// precedence, or fallback when nothing matches. derived is false for the fallback.
func DeriveName(content, fallback string) (name string, derived bool) {
	code := StripCommentsAndStrings(content)
	for _, m := range nameMatchers {
		if sub := m.FindStringSubmatch(code); sub != nil {
			return sub[1], true
		}
	}
	return fallback, false
}

// PackageOf returns the declared package, or "" for the default package.
func PackageOf(content string) string {
	sub := packagePattern.FindStringSubmatch(StripCommentsAndStrings(content))
	if sub == nil {
		return ""
	}
	return blank.ReplaceAllString(sub[1], "")
}

// EntryPoint qualifies a type name with its package.
func EntryPoint(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}

// StripCommentsAndStrings blanks comments, string literals, text blocks and
// character literals. Newlines are kept so line anchors still work.
func StripCommentsAndStrings(src string) string {
	var b strings.Builder
	b.Grow(len(src))

	blankOut := func(s string) {
		for _, r := range s {
			if r == '\n' {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
	}

	i := 0
	for i < len(src) {
		switch {
		case strings.HasPrefix(src[i:], "//"):
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src) - i
			}
			blankOut(src[i : i+end])
			i += end
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				blankOut(src[i:])
				return b.String()
			}
			blankOut(src[i : i+2+end+2])
			i += 2 + end + 2
		case strings.HasPrefix(src[i:], `"""`):
			end := strings.Index(src[i+3:], `"""`)
			if end < 0 {
				blankOut(src[i:])
				return b.String()
			}
			blankOut(src[i : i+3+end+3])
			i += 3 + end + 3
		case src[i] == '"' || src[i] == '\'':
			n := quotedLen(src[i:], src[i])
			blankOut(src[i : i+n])
			i += n
		default:
			b.WriteByte(src[i])
			i++
		}
	}
	return b.String()
}

// quotedLen measures a single-line quoted literal including both quotes.
// An unterminated literal ends at the line break.
func quotedLen(s string, quote byte) int {
	for j := 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		case '\n':
			return j
		}
	}
	return len(s)
}
