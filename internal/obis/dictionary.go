package obis

// Codes reported by household electricity meters that this service maps
// onto a reading. Everything else in a record set is ignored.
var (
	TotalEnergy = MustParse("1-0:1.8.0")
	LineOne     = MustParse("1-0:36.7.0")
	LineTwo     = MustParse("1-0:56.7.0")
	LineThree   = MustParse("1-0:76.7.0")
)

// Field identifies the reading field a known code maps to.
type Field int

const (
	FieldNone Field = iota
	FieldTotalEnergy
	FieldLineOne
	FieldLineTwo
	FieldLineThree
)

var dictionary = map[Code]Field{
	TotalEnergy: FieldTotalEnergy,
	LineOne:     FieldLineOne,
	LineTwo:     FieldLineTwo,
	LineThree:   FieldLineThree,
}

// Lookup returns the field a code maps to, or FieldNone for unknown codes.
func Lookup(c Code) Field {
	return dictionary[c]
}

// LineIndex returns the zero-based phase index of a line power field, or -1.
func (f Field) LineIndex() int {
	switch f {
	case FieldLineOne:
		return 0
	case FieldLineTwo:
		return 1
	case FieldLineThree:
		return 2
	default:
		return -1
	}
}
