package wgconf

import (
	"fmt"
	"strings"
)

// Parse reads config text into a Document. It fails with ErrMalformed on
// broken section syntax, a missing or duplicated [Interface] section, or
// a [Peer] section without a PublicKey. Unknown keys and comments are
// preserved verbatim so that Serialize round-trips exactly.
func Parse(raw []byte) (*Document, error) {
	text := string(raw)
	doc := &Document{trailingNewline: strings.HasSuffix(text, "\n")}

	lines := strings.Split(text, "\n")
	if doc.trailingNewline {
		lines = lines[:len(lines)-1]
	}

	var current *Section
	for i, rawLine := range lines {
		trimmed := strings.TrimSpace(rawLine)

		switch {
		case strings.HasPrefix(trimmed, "["):
			name, err := parseHeader(trimmed)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, i+1, err)
			}
			current = &Section{Header: rawLine, Name: name}
			doc.sections = append(doc.sections, current)

		case trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";"):
			if current == nil {
				doc.leading = append(doc.leading, Line{Raw: rawLine})
			} else {
				current.Lines = append(current.Lines, Line{Raw: rawLine})
			}

		default:
			if current == nil {
				return nil, fmt.Errorf("%w: line %d: %q outside any section", ErrMalformed, i+1, trimmed)
			}
			key, value, ok := strings.Cut(trimmed, "=")
			if !ok {
				return nil, fmt.Errorf("%w: line %d: %q is not a key = value line", ErrMalformed, i+1, trimmed)
			}
			current.Lines = append(current.Lines, Line{
				Raw:   rawLine,
				Key:   strings.TrimSpace(key),
				Value: strings.TrimSpace(value),
			})
		}
	}

	if err := validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseHeader extracts the section name from a "[Name]" line.
func parseHeader(trimmed string) (string, error) {
	if !strings.HasSuffix(trimmed, "]") {
		return "", fmt.Errorf("unterminated section header %q", trimmed)
	}
	name := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if name == "" || strings.ContainsAny(name, "[]") {
		return "", fmt.Errorf("invalid section header %q", trimmed)
	}
	return name, nil
}

func validate(doc *Document) error {
	interfaces := 0
	for _, s := range doc.sections {
		switch s.Name {
		case interfaceSection:
			interfaces++
			if interfaces > 1 {
				return fmt.Errorf("%w: duplicate [Interface] section", ErrMalformed)
			}
		case peerSection:
			if _, ok := s.Get("PublicKey"); !ok {
				return fmt.Errorf("%w: [Peer] section without PublicKey", ErrMalformed)
			}
		}
	}
	if interfaces == 0 {
		return fmt.Errorf("%w: no [Interface] section", ErrMalformed)
	}
	return nil
}
