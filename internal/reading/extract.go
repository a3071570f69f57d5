package reading

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/obis"
	"github.com/septivank/sml-meter-logger/internal/sml"
)

// Shape errors returned by Extract.
var (
	ErrMessageCount      = errors.New("file must contain exactly 3 messages")
	ErrUnexpectedMessage = errors.New("second message is not a get list response")
)

// Extract maps the list entries of a meter file to a Reading.
//
// The file must consist of an open response, a get list response and a close
// response. Entries with an invalid OBIS code or a value of the wrong type are
// logged at debug level and skipped. Entries with unknown codes are ignored.
func Extract(file sml.File, logger *zap.Logger) (Reading, error) {
	if len(file.Messages) != 3 {
		return Reading{}, fmt.Errorf("%w: got %d", ErrMessageCount, len(file.Messages))
	}
	list, ok := file.Messages[1].Body.(sml.GetListResponse)
	if !ok {
		return Reading{}, fmt.Errorf("%w: got %T", ErrUnexpectedMessage, file.Messages[1].Body)
	}

	var r Reading
	for _, entry := range list.ValList {
		code, err := obis.FromBytes(entry.ObjName)
		if err != nil {
			logger.Debug("Skipping entry with invalid OBIS code",
				zap.Binary("obj_name", entry.ObjName),
				zap.Error(err))
			continue
		}

		unit, hasUnit := Unit(0), false
		if entry.Unit != nil {
			unit, hasUnit = UnitFromCode(*entry.Unit)
		}

		field := obis.Lookup(code)
		switch field {
		case obis.FieldTotalEnergy:
			raw, ok := entry.Value.(sml.U64)
			if !ok {
				logger.Debug("Skipping total energy with non U64 value",
					zap.String("obis", code.String()),
					zap.String("value_type", fmt.Sprintf("%T", entry.Value)))
				continue
			}
			r.TotalEnergy = &Energy{Value: scale(uint64(raw), entry.Scaler), Unit: unit, HasUnit: hasUnit}
			r.MeterTime = nil
			if secs, ok := entry.ValTime.(sml.SecIndex); ok {
				t := uint32(secs)
				r.MeterTime = &t
			}
		case obis.FieldLineOne, obis.FieldLineTwo, obis.FieldLineThree:
			raw, ok := entry.Value.(sml.I32)
			if !ok {
				logger.Debug("Skipping line power with non I32 value",
					zap.String("obis", code.String()),
					zap.String("value_type", fmt.Sprintf("%T", entry.Value)))
				continue
			}
			r.Lines[field.LineIndex()] = &Power{Value: int32(raw), Unit: unit, HasUnit: hasUnit}
		}
	}
	return r, nil
}

// scale applies the entry scaler as value / 10^(-scaler).
func scale(raw uint64, scaler *int8) float64 {
	v := float64(raw)
	if scaler == nil {
		return v
	}
	return v / math.Pow10(-int(*scaler))
}
