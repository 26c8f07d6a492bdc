package telegram

import (
	"fmt"
	"strings"

	"github.com/NotCoffee418/iec62056_reader/pkg/obis"
)

// ValueGroup is one bracketed "(value*unit)" group.
type ValueGroup struct {
	Value string
	Unit  string
}

// DataLine is an OBIS code followed by one or more value groups.
type DataLine struct {
	Number int
	Code   obis.Code
	Groups []ValueGroup
}

// ParseDataLine reads "<code>(<value>[*<unit>])[(...)...]".
// Whitespace around the code and between groups is ignored.
func ParseDataLine(line string) (DataLine, error) {
	s := strings.TrimSpace(line)
	open := strings.IndexByte(s, '(')
	codeText := s
	if open >= 0 {
		codeText = s[:open]
	}

	code, err := obis.ParseCode(codeText)
	if err != nil {
		return DataLine{}, fmt.Errorf("%w: %v", ErrMalformedObisCode, err)
	}
	if open < 0 {
		return DataLine{}, fmt.Errorf("%w: %s has no value group", ErrMalformedValue, code)
	}

	dl := DataLine{Code: code}
	rest := s[open:]
	for {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			break
		}
		if rest[0] != '(' {
			return DataLine{}, fmt.Errorf("%w: unexpected %q after group", ErrMalformedValue, rest)
		}
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return DataLine{}, fmt.Errorf("%w: truncated group %q", ErrMalformedValue, rest)
		}
		content := rest[1:end]
		if strings.ContainsRune(content, '(') {
			return DataLine{}, fmt.Errorf("%w: truncated group %q", ErrMalformedValue, rest[:end+1])
		}

		group := ValueGroup{Value: strings.TrimSpace(content)}
		if star := strings.LastIndexByte(content, '*'); star >= 0 {
			group.Value = strings.TrimSpace(content[:star])
			group.Unit = strings.TrimSpace(content[star+1:])
		}
		dl.Groups = append(dl.Groups, group)
		rest = rest[end+1:]
	}
	return dl, nil
}
