package console

import (
	"fmt"
	"regexp"
	"strings"
)

// FilterType selects how OutputFilter matches lines.
type FilterType string

const (
	FilterNone   FilterType = "none"
	FilterErrors FilterType = "errors"
	FilterSearch FilterType = "search"
	FilterRegex  FilterType = "regex"
)

// OutputFilter filters console output based on criteria
type OutputFilter struct {
	Type          FilterType
	Pattern       string
	CaseSensitive bool
	regex         *regexp.Regexp
}

// FilterResult represents the result of filtering a line
type FilterResult struct {
	Include   bool
	Highlight []int // start/end of the first match
}

// Match all ANSI/VT100 escape sequences including CSI, OSC, and other control sequences
var ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?!]*[A-Za-z>hp]|\([B0]|[=>])`)

// Minecraft formatting codes such as §6 or §l.
var formatCodePattern = regexp.MustCompile(`§[0-9A-Fa-fK-Ok-oRrXx]`)

var errorKeywords = []string{
	"error",
	"exception",
	"fatal",
	"severe",
	"warning",
	"warn",
	"failed",
	"failure",
	"critical",
	"stack trace",
	"caused by",
}

// NewOutputFilter creates a new output filter
func NewOutputFilter(filterType FilterType, pattern string, caseSensitive bool) (*OutputFilter, error) {
	filter := &OutputFilter{
		Type:          filterType,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
	}

	switch filterType {
	case FilterNone, FilterErrors, FilterSearch:
	case FilterRegex:
		if pattern == "" {
			break
		}
		flags := ""
		if !caseSensitive {
			flags = "(?i)"
		}
		compiled, err := regexp.Compile(flags + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		filter.regex = compiled
	default:
		return nil, fmt.Errorf("unknown filter type %q", filterType)
	}

	return filter, nil
}

// ParseFilter reads the argument form used by the console and CLI:
// "none", "errors", "search <text>" or "regex <pattern>". A bare word that is
// not a filter type is treated as a search.
func ParseFilter(spec string) (*OutputFilter, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "off" {
		return NewOutputFilter(FilterNone, "", false)
	}
	kind, rest, _ := strings.Cut(spec, " ")
	rest = strings.TrimSpace(rest)
	switch FilterType(strings.ToLower(kind)) {
	case FilterNone:
		return NewOutputFilter(FilterNone, "", false)
	case FilterErrors:
		return NewOutputFilter(FilterErrors, "", false)
	case FilterSearch:
		return NewOutputFilter(FilterSearch, rest, false)
	case FilterRegex:
		return NewOutputFilter(FilterRegex, rest, false)
	}
	return NewOutputFilter(FilterSearch, spec, false)
}

// Active reports whether the filter drops anything.
func (f *OutputFilter) Active() bool {
	if f == nil {
		return false
	}
	switch f.Type {
	case FilterErrors:
		return true
	case FilterSearch:
		return f.Pattern != ""
	case FilterRegex:
		return f.regex != nil
	}
	return false
}

func (f *OutputFilter) String() string {
	if !f.Active() {
		return string(FilterNone)
	}
	if f.Type == FilterErrors {
		return string(f.Type)
	}
	return fmt.Sprintf("%s %q", f.Type, f.Pattern)
}

// Filter applies the filter to a line of output
func (f *OutputFilter) Filter(line string) FilterResult {
	result := FilterResult{Include: true}
	if f == nil {
		return result
	}

	switch f.Type {
	case FilterErrors:
		idx, n := errorKeywordIndex(line)
		result.Include = idx >= 0
		if result.Include {
			result.Highlight = []int{idx, idx + n}
		}

	case FilterSearch:
		if f.Pattern == "" {
			return result
		}
		searchLine := line
		searchPattern := f.Pattern
		if !f.CaseSensitive {
			searchLine = strings.ToLower(line)
			searchPattern = strings.ToLower(f.Pattern)
		}
		if idx := strings.Index(searchLine, searchPattern); idx >= 0 {
			result.Highlight = []int{idx, idx + len(searchPattern)}
		} else {
			result.Include = false
		}

	case FilterRegex:
		if f.regex == nil {
			return result
		}
		if match := f.regex.FindStringIndex(line); match != nil {
			result.Highlight = match
		} else {
			result.Include = false
		}
	}
	return result
}

// FilterLines applies the filter to multiple lines
func (f *OutputFilter) FilterLines(lines []string) []string {
	if !f.Active() {
		return lines
	}
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		if f.Filter(line).Include {
			filtered = append(filtered, line)
		}
	}
	return filtered
}

func errorKeywordIndex(line string) (int, int) {
	lowerLine := strings.ToLower(line)
	best, size := -1, 0
	for _, keyword := range errorKeywords {
		if idx := strings.Index(lowerLine, keyword); idx >= 0 && (best < 0 || idx < best) {
			best, size = idx, len(keyword)
		}
	}
	return best, size
}

// SanitizeLine strips escape sequences, formatting codes and control
// characters other than tabs.
func SanitizeLine(line string) string {
	if line == "" {
		return ""
	}
	stripped := ansiEscapePattern.ReplaceAllString(line, "")
	stripped = formatCodePattern.ReplaceAllString(stripped, "")
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, stripped)
}
