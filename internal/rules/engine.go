// Package rules applies user-maintained corrections to microphone transcripts.
//
// A rules file holds one rule per line. Blank lines and lines starting with # are ignored.
//
//	pull request => PR          literal, case-insensitive, every occurrence
//	s/\bmag ?nus\b/Magnus/g     sed-style regex; flags i, g, m, s (i is always on)
//
// Rules run top to bottom and the whole set repeats until the text stops changing or the
// iteration limit is reached.
package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

const defaultIterationLimit = 30

type rule struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

func (r rule) apply(input string) string {
	if !r.firstOnly {
		return r.re.ReplaceAllString(input, r.replacement)
	}
	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	return input[:loc[0]] + string(expanded) + input[loc[1]:]
}

// Engine implements ports.RulesEngine.
type Engine struct {
	rules []rule
	limit int
}

// Load reads rules from path. A blank path or a missing file yields an engine that changes nothing.
func Load(path string, limit int) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return newEngine(nil, limit), nil
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return newEngine(nil, limit), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open rules file %q: %w", path, err)
	}
	defer f.Close()

	engine, err := Parse(f, limit)
	if err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	return engine, nil
}

// Parse compiles the rules read from r.
func Parse(r io.Reader, limit int) (*Engine, error) {
	var rules []rule
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			parsed rule
			err    error
		)
		switch {
		case isRegexRule(line):
			parsed, err = parseRegex(line)
		case strings.Contains(line, "=>"):
			parsed, err = parseLiteral(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rules = append(rules, parsed)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return newEngine(rules, limit), nil
}

func newEngine(rules []rule, limit int) *Engine {
	if limit <= 0 {
		limit = defaultIterationLimit
	}
	return &Engine{rules: rules, limit: limit}
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

func (e *Engine) Apply(text string) (string, error) {
	result := text
	for i := 0; i < e.limit && len(e.rules) > 0; i++ {
		before := result
		for _, r := range e.rules {
			result = r.apply(result)
		}
		if result == before {
			break
		}
	}
	return result, nil
}

func parseLiteral(line string) (rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return rule{}, errors.New("literal rule source cannot be empty")
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(from))
	// Literal replacements must not expand $1 and friends.
	return rule{re: re, replacement: strings.ReplaceAll(strings.TrimSpace(to), "$", "$$")}, nil
}

func isRegexRule(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrSpace(line[1])
}

func parseRegex(line string) (rule, error) {
	delim := line[1]
	pattern, next, err := readDelimited(line, 2, delim)
	if err != nil {
		return rule{}, fmt.Errorf("regex pattern: %w", err)
	}
	replacement, next, err := readDelimited(line, next, delim)
	if err != nil {
		return rule{}, fmt.Errorf("regex replacement: %w", err)
	}

	inline := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			inline += string(flag)
		default:
			return rule{}, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex: %w", err)
	}
	return rule{re: re, replacement: replacement, firstOnly: !global}, nil
}

// readDelimited returns the text up to the next unescaped delim and the index after it.
// Escapes are kept so regexp sees them.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == delim:
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordOrSpace(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ' ' || c == '\t'
}
