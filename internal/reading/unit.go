package reading

import (
	"encoding/json"
	"fmt"
)

// Unit is a DLMS/COSEM unit. Only the units power meters report are known.
type Unit uint8

const (
	Degree   Unit = 8
	Watt     Unit = 27
	WattHour Unit = 30
	Ampere   Unit = 33
	Volt     Unit = 35
	Hertz    Unit = 44
)

// UnitFromCode maps a DLMS/COSEM unit number to a Unit. It reports false for
// numbers that are not known.
func UnitFromCode(code uint8) (Unit, bool) {
	switch u := Unit(code); u {
	case Degree, Watt, WattHour, Ampere, Volt, Hertz:
		return u, true
	}
	return 0, false
}

// String returns the unit symbol, e.g. "W" for Watt.
func (u Unit) String() string {
	switch u {
	case Watt:
		return "W"
	case WattHour:
		return "Wh"
	case Volt:
		return "V"
	case Ampere:
		return "A"
	case Degree:
		return "°"
	case Hertz:
		return "Hz"
	}
	return fmt.Sprintf("Unit(%d)", uint8(u))
}

// Name returns the variant name used in JSON, e.g. "WattHour".
func (u Unit) Name() string {
	switch u {
	case Watt:
		return "Watt"
	case WattHour:
		return "WattHour"
	case Volt:
		return "Volt"
	case Ampere:
		return "Ampere"
	case Degree:
		return "Degree"
	case Hertz:
		return "Hertz"
	}
	return fmt.Sprintf("Unit(%d)", uint8(u))
}

func (u Unit) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Name())
}

func (u *Unit) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, candidate := range []Unit{Degree, Watt, WattHour, Ampere, Volt, Hertz} {
		if candidate.Name() == name || candidate.String() == name {
			*u = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown unit %q", name)
}
