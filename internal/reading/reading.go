// Package reading turns decoded SML files into meter readings.
package reading

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Energy is the total energy counter.
type Energy struct {
	Value   float64
	Unit    Unit
	HasUnit bool
}

// Power is the instantaneous power of one line.
type Power struct {
	Value   int32
	Unit    Unit
	HasUnit bool
}

// Reading is one decoded meter reading. Every field is optional. Lines holds
// the power of line one to three in that order.
type Reading struct {
	MeterTime   *uint32
	TotalEnergy *Energy
	Lines       [3]*Power
}

// Clone returns a deep copy of r.
func (r Reading) Clone() Reading {
	var c Reading
	if r.MeterTime != nil {
		t := *r.MeterTime
		c.MeterTime = &t
	}
	if r.TotalEnergy != nil {
		e := *r.TotalEnergy
		c.TotalEnergy = &e
	}
	for i, p := range r.Lines {
		if p != nil {
			cp := *p
			c.Lines[i] = &cp
		}
	}
	return c
}

// LinePowerSum returns the summed power of all present lines and whether any
// line was present.
func (r Reading) LinePowerSum() (int64, bool) {
	var sum int64
	found := false
	for _, p := range r.Lines {
		if p != nil {
			sum += int64(p.Value)
			found = true
		}
	}
	return sum, found
}

const unknown = "Unknown"

func (r Reading) meterTime() string {
	if r.MeterTime == nil {
		return unknown
	}
	return strconv.FormatUint(uint64(*r.MeterTime), 10)
}

func (r Reading) energy() (string, string) {
	if r.TotalEnergy == nil {
		return unknown, unknown
	}
	unit := unknown
	if r.TotalEnergy.HasUnit {
		unit = r.TotalEnergy.Unit.String()
	}
	return strconv.FormatFloat(r.TotalEnergy.Value, 'f', -1, 64), unit
}

func (r Reading) line(i int) (string, string) {
	p := r.Lines[i]
	if p == nil {
		return unknown, unknown
	}
	unit := unknown
	if p.HasUnit {
		unit = p.Unit.String()
	}
	return strconv.FormatInt(int64(p.Value), 10), unit
}

// String renders r on multiple lines, with "Unknown" for absent values.
func (r Reading) String() string {
	var b strings.Builder
	value, unit := r.energy()
	fmt.Fprintf(&b, "Meter Reading: %s %s\n", value, unit)
	fmt.Fprintf(&b, "Meter Time: %s\n", r.meterTime())
	for i, name := range []string{"One", "Two", "Three"} {
		value, unit := r.line(i)
		fmt.Fprintf(&b, "Line %s: %s %s\n", name, value, unit)
	}
	return b.String()
}

// Compact renders r on a single line.
func (r Reading) Compact() string {
	parts := []string{r.meterTime() + "s"}
	value, unit := r.energy()
	parts = append(parts, value+" "+unit)
	for i := range r.Lines {
		value, unit := r.line(i)
		parts = append(parts, value+" "+unit)
	}
	return strings.Join(parts, ", ")
}

type jsonReading struct {
	MeterTime        *uint32  `json:"meter_time"`
	MeterReading     *float64 `json:"meter_reading"`
	MeterReadingUnit *Unit    `json:"meter_reading_unit"`
	LineOne          *int32   `json:"line_one"`
	LineOneUnit      *Unit    `json:"line_one_unit"`
	LineTwo          *int32   `json:"line_two"`
	LineTwoUnit      *Unit    `json:"line_two_unit"`
	LineThree        *int32   `json:"line_three"`
	LineThreeUnit    *Unit    `json:"line_three_unit"`
}

func (r Reading) MarshalJSON() ([]byte, error) {
	out := jsonReading{MeterTime: r.MeterTime}
	if e := r.TotalEnergy; e != nil {
		v := e.Value
		out.MeterReading = &v
		if e.HasUnit {
			u := e.Unit
			out.MeterReadingUnit = &u
		}
	}
	values := []**int32{&out.LineOne, &out.LineTwo, &out.LineThree}
	units := []**Unit{&out.LineOneUnit, &out.LineTwoUnit, &out.LineThreeUnit}
	for i, p := range r.Lines {
		if p == nil {
			continue
		}
		v := p.Value
		*values[i] = &v
		if p.HasUnit {
			u := p.Unit
			*units[i] = &u
		}
	}
	return json.Marshal(out)
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	var in jsonReading
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Reading{MeterTime: in.MeterTime}
	if in.MeterReading != nil {
		r.TotalEnergy = &Energy{Value: *in.MeterReading}
		if in.MeterReadingUnit != nil {
			r.TotalEnergy.Unit, r.TotalEnergy.HasUnit = *in.MeterReadingUnit, true
		}
	}
	values := []*int32{in.LineOne, in.LineTwo, in.LineThree}
	units := []*Unit{in.LineOneUnit, in.LineTwoUnit, in.LineThreeUnit}
	for i, v := range values {
		if v == nil {
			continue
		}
		r.Lines[i] = &Power{Value: *v}
		if units[i] != nil {
			r.Lines[i].Unit, r.Lines[i].HasUnit = *units[i], true
		}
	}
	return nil
}
