package expression

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a document path: an attribute name or a list index.
type segment struct {
	name  string
	index int
}

func (s segment) isIndex() bool { return s.name == "" }

// lexPath splits a document path such as "Settings.Rules[2].Name" into
// segments. Names may contain any character except '.', '[' and ']'.
func lexPath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("expression: empty path")
	}
	var out []segment
	i := 0
	for {
		start := i
		for i < len(path) && path[i] != '.' && path[i] != '[' && path[i] != ']' {
			i++
		}
		if i == start {
			return nil, fmt.Errorf("expression: path %q: empty attribute name at offset %d", path, start)
		}
		out = append(out, segment{name: path[start:i]})

		for i < len(path) && path[i] == '[' {
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("expression: path %q: unterminated index at offset %d", path, i)
			}
			digits := path[i+1 : i+end]
			n, err := strconv.Atoi(digits)
			if err != nil || n < 0 || digits == "" || digits[0] == '+' {
				return nil, fmt.Errorf("expression: path %q: bad index %q", path, digits)
			}
			out = append(out, segment{index: n})
			i += end + 1
		}

		if i == len(path) {
			return out, nil
		}
		if path[i] != '.' {
			return nil, fmt.Errorf("expression: path %q: unexpected %q at offset %d", path, path[i], i)
		}
		i++
		if i == len(path) {
			return nil, fmt.Errorf("expression: path %q: trailing '.'", path)
		}
	}
}

// compilePath renders path with a name token per attribute segment.
func compilePath(path string, nameToken func(string) string) (string, error) {
	segs, err := lexPath(path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, s := range segs {
		if s.isIndex() {
			b.WriteString("[" + strconv.Itoa(s.index) + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(nameToken(s.name))
	}
	return b.String(), nil
}
