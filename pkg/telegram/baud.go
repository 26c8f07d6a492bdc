package telegram

// BaudTable maps identification baud characters to line speeds.
type BaudTable struct {
	name  string
	rates map[byte]uint
}

var (
	// ModeCBaudTable is the mode C/E table of IEC 62056-21.
	ModeCBaudTable = BaudTable{name: "iec-c", rates: map[byte]uint{
		'0': 300, '1': 600, '2': 1200, '3': 2400, '4': 4800, '5': 9600, '6': 19200,
	}}
	// ModeBBaudTable is the letter table used by mode B.
	ModeBBaudTable = BaudTable{name: "iec-b", rates: map[byte]uint{
		'A': 600, 'B': 1200, 'C': 2400, 'D': 4800, 'E': 9600, 'F': 19200,
	}}
)

const InitialBaud uint = 300

func (t BaudTable) Name() string {
	return t.name
}

// Rate looks up the speed for an identifier.
func (t BaudTable) Rate(id byte) (uint, bool) {
	rate, ok := t.rates[id]
	return rate, ok
}

// Negotiate picks the fastest entry whose identifier does not exceed the proposed one
// and whose rate does not exceed limit. Identifiers sort in rate order in both IEC tables,
// so reserved or capped-off proposals fall back to the fastest remaining entry.
// When nothing qualifies the session stays at 300 baud with identifier '0'.
func (t BaudTable) Negotiate(proposed byte, limit uint) (byte, uint) {
	bestID, best := byte('0'), InitialBaud
	for id, rate := range t.rates {
		if id > proposed || (limit > 0 && rate > limit) {
			continue
		}
		if rate > best {
			bestID, best = id, rate
		}
	}
	return bestID, best
}
