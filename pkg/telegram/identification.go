package telegram

import (
	"fmt"
	"strings"
)

// Grammar selects the identification rules of the session's mode.
type Grammar uint8

const (
	// GrammarStandard accepts the digit baud identifiers of modes A, C and D.
	GrammarStandard Grammar = iota
	// GrammarExtended also accepts the letter identifiers A-F used by mode B.
	GrammarExtended
)

// Identification is the parsed "/XXXZ<model>" line.
type Identification struct {
	Manufacturer string `json:"manufacturer"`
	BaudID       byte   `json:"baud_id"`
	Model        string `json:"model"`
	// ShortReaction is set when the meter wrote the third manufacturer letter in
	// lower case, announcing a 20 ms reaction time.
	ShortReaction bool `json:"short_reaction,omitempty"`
	// Enhanced holds the character after a leading backslash in the model, if any.
	Enhanced byte `json:"enhanced,omitempty"`
}

// DeviceName is the manufacturer and model joined, used when the telegram carries no id.
func (id Identification) DeviceName() string {
	return id.Manufacturer + id.Model
}

func (id Identification) String() string {
	return fmt.Sprintf("/%s%c%s", id.Manufacturer, id.BaudID, id.Model)
}

// ParseIdentification parses the line without its CR LF.
func ParseIdentification(line string, grammar Grammar) (Identification, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimLeft(line, " \x02")
	if !strings.HasPrefix(line, "/") {
		return Identification{}, fmt.Errorf("%w: no leading '/'", ErrIdentification)
	}
	content := line[1:]
	if len(content) < 4 {
		return Identification{}, fmt.Errorf("%w: %q too short", ErrIdentification, line)
	}

	var id Identification
	for i := 0; i < 3; i++ {
		ch := content[i]
		switch {
		case ch >= 'A' && ch <= 'Z':
		case i == 2 && ch >= 'a' && ch <= 'z':
			id.ShortReaction = true
		default:
			return Identification{}, fmt.Errorf("%w: manufacturer %q is not three letters", ErrIdentification, content[:3])
		}
	}
	id.Manufacturer = strings.ToUpper(content[:3])

	id.BaudID = content[3]
	if !validBaudID(id.BaudID, grammar) {
		return Identification{}, fmt.Errorf("%w: baud identifier %q", ErrIdentification, id.BaudID)
	}

	id.Model = strings.TrimSpace(content[4:])
	if len(id.Model) >= 2 && id.Model[0] == '\\' {
		id.Enhanced = id.Model[1]
	}
	return id, nil
}

// validBaudID accepts only identifiers listed in the IEC tables, reserved
// ones such as '7'-'9' or 'G'-'I' are rejected.
func validBaudID(ch byte, grammar Grammar) bool {
	if _, ok := ModeCBaudTable.Rate(ch); ok {
		return true
	}
	if grammar != GrammarExtended {
		return false
	}
	_, ok := ModeBBaudTable.Rate(ch)
	return ok
}
