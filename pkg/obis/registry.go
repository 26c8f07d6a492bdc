package obis

import "fmt"

// Kind tells the decoder how to read a value group.
type Kind uint8

const (
	KindNumeric Kind = iota
	KindTimestamp
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindTimestamp:
		return "timestamp"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is the registry's meaning for one code.
// Scale is a power of ten applied to the presented value.
type Entry struct {
	Label string
	Unit  string
	Scale int32
	Kind  Kind
}

// LabelUnmapped marks records for codes the registry does not know.
const LabelUnmapped = "unmapped"

// Registry is an immutable code lookup. Build it once and share it between sessions.
type Registry struct {
	entries map[Code]Entry
}

// NewRegistry copies entries, later changes to the map are not observed.
// Keys are stored without the storage group F.
func NewRegistry(entries map[Code]Entry) *Registry {
	r := &Registry{entries: make(map[Code]Entry, len(entries))}
	for code, entry := range entries {
		r.entries[code.WithoutStorage()] = entry
	}
	return r
}

// Lookup resolves a code, ignoring F. Short C.D.E codes are read as electricity 1-0.
func (r *Registry) Lookup(code Code) (Entry, bool) {
	key := code.WithoutStorage()
	if entry, ok := r.entries[key]; ok {
		return entry, true
	}
	if key.Short() {
		entry, ok := r.entries[key.Qualified(1, 0)]
		return entry, ok
	}
	return Entry{}, false
}

// Codes lists every registered code, in no particular order.
func (r *Registry) Codes() []Code {
	codes := make([]Code, 0, len(r.entries))
	for code := range r.entries {
		codes = append(codes, code)
	}
	return codes
}

// DefaultRegistry covers energy registers, instantaneous power, per-phase voltage and
// current, power factor, reactive quantities, frequency and the abstract identifiers.
func DefaultRegistry() *Registry {
	entries := map[Code]Entry{}
	add := func(code, label, unit string, kind Kind) {
		entries[MustParse(code)] = Entry{Label: label, Unit: unit, Kind: kind}
	}

	// Active energy registers, total and tariffs 1-4
	for tariff := uint8(0); tariff <= 4; tariff++ {
		suffix := "total"
		if tariff > 0 {
			suffix = fmt.Sprintf("t%d", tariff)
		}
		entries[New(1, 0, 1, 8, tariff)] = Entry{Label: "active_energy_import_" + suffix, Unit: "kWh"}
		entries[New(1, 0, 2, 8, tariff)] = Entry{Label: "active_energy_export_" + suffix, Unit: "kWh"}
		entries[New(1, 0, 3, 8, tariff)] = Entry{Label: "reactive_energy_import_" + suffix, Unit: "kvarh"}
		entries[New(1, 0, 4, 8, tariff)] = Entry{Label: "reactive_energy_export_" + suffix, Unit: "kvarh"}
	}
	add("1-0:15.8.0", "active_energy_absolute_total", "kWh", KindNumeric)
	add("1-0:16.8.0", "active_energy_sum_total", "kWh", KindNumeric)

	// Instantaneous power
	add("1-0:1.7.0", "active_power_import", "kW", KindNumeric)
	add("1-0:2.7.0", "active_power_export", "kW", KindNumeric)
	add("1-0:3.7.0", "reactive_power_import", "kvar", KindNumeric)
	add("1-0:4.7.0", "reactive_power_export", "kvar", KindNumeric)
	add("1-0:15.7.0", "instantaneous_power", "kW", KindNumeric)
	add("1-0:16.7.0", "active_power_sum", "kW", KindNumeric)
	add("1-0:36.7.0", "reactive_power_sum", "kvar", KindNumeric)

	// Per phase
	for i, base := range []uint8{20, 40, 60} {
		phase := fmt.Sprintf("l%d", i+1)
		entries[New(1, 0, base+1, 7, 0)] = Entry{Label: "active_power_import_" + phase, Unit: "kW"}
		entries[New(1, 0, base+2, 7, 0)] = Entry{Label: "active_power_export_" + phase, Unit: "kW"}
		entries[New(1, 0, base+11, 7, 0)] = Entry{Label: "current_" + phase, Unit: "A"}
		entries[New(1, 0, base+12, 7, 0)] = Entry{Label: "voltage_" + phase, Unit: "V"}
		entries[New(1, 0, base+13, 7, 0)] = Entry{Label: "power_factor_" + phase, Unit: ""}
		entries[New(1, 0, base+12, 32, 0)] = Entry{Label: "voltage_sags_" + phase, Unit: ""}
		entries[New(1, 0, base+12, 36, 0)] = Entry{Label: "voltage_swells_" + phase, Unit: ""}
	}
	add("1-0:91.7.0", "current_neutral", "A", KindNumeric)
	add("1-0:13.7.0", "power_factor", "", KindNumeric)
	add("1-0:14.7.0", "frequency", "Hz", KindNumeric)

	// Identification and clock
	add("0-0:1.0.0", "timestamp", "", KindTimestamp)
	add("1-0:0.9.1", "meter_time", "", KindText)
	add("1-0:0.9.2", "meter_date", "", KindText)
	add("0-0:0.0.0", "device_id", "", KindText)
	add("1-0:0.0.0", "equipment_identifier", "", KindText)
	add("0-0:96.1.0", "device_id", "", KindText)
	add("0-0:96.1.255", "device_id", "", KindText)
	add("1-0:96.1.0", "device_id", "", KindText)
	add("0-0:0.2.0", "firmware_version", "", KindText)
	add("1-0:0.2.0", "firmware_version", "", KindText)
	add("1-0:96.5.5", "status_word", "", KindText)
	add("0-0:96.14.0", "current_tariff", "", KindNumeric)

	return NewRegistry(entries)
}
