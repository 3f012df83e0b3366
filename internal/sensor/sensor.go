// Package sensor parses the pipe-delimited report printed by
// `ipmitool sensor` into structured readings.
package sensor

import (
	"math"
	"strconv"
	"strings"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
)

const (
	// CPUTemperature is the chassis sensor watched by default.
	CPUTemperature = "CPU_Diode_Temp"

	delimiter  = "|"
	fieldCount = 10
)

// Reading is one row of a sensor report. Threshold fields are kept as
// reported and never interpreted.
type Reading struct {
	Name                string
	Value               string
	Unit                string
	Status              string
	LowerNonRecoverable string
	LowerCritical       string
	LowerNonCritical    string
	UpperNonCritical    string
	UpperCritical       string
	UpperNonRecoverable string
}

// ParseLine parses a single report line. The line must split into exactly
// ten fields, none of them blank.
func ParseLine(line string) (Reading, error) {
	errFactory := errors.New()

	fields := strings.Split(strings.TrimSpace(line), delimiter)
	if len(fields) != fieldCount {
		return Reading{}, errFactory.WithData(errors.ErrParse,
			"expected 10 fields, got "+strconv.Itoa(len(fields)))
	}

	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
		if fields[i] == "" {
			return Reading{}, errFactory.WithData(errors.ErrParse,
				"field "+strconv.Itoa(i+1)+" is empty")
		}
	}

	return Reading{
		Name:                fields[0],
		Value:               fields[1],
		Unit:                fields[2],
		Status:              fields[3],
		LowerNonRecoverable: fields[4],
		LowerCritical:       fields[5],
		LowerNonCritical:    fields[6],
		UpperNonCritical:    fields[7],
		UpperCritical:       fields[8],
		UpperNonRecoverable: fields[9],
	}, nil
}

// ParseReport parses every non-empty line of a report, in order. The first
// malformed line fails the whole report.
func ParseReport(report string) ([]Reading, error) {
	errFactory := errors.New()

	lines := strings.Split(report, "\n")
	readings := make([]Reading, 0, len(lines))

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		reading, err := ParseLine(line)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrParse, err).
				WithMessage("Malformed sensor line " + strconv.Itoa(i+1))
		}
		readings = append(readings, reading)
	}

	return readings, nil
}

// Find returns the first reading whose name is exactly name.
func Find(readings []Reading, name string) (Reading, error) {
	for _, r := range readings {
		if r.Name == name {
			return r, nil
		}
	}

	return Reading{}, errors.New().WithData(errors.ErrSensorNotFound, name)
}

// Temperature returns the reading's value truncated to whole degrees.
func (r Reading) Temperature() (int, error) {
	value, err := strconv.ParseFloat(r.Value, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.New().WithData(errors.ErrParse,
			"non-numeric value "+strconv.Quote(r.Value)+" for sensor "+r.Name)
	}

	return int(value), nil
}

// Fields returns the ten fields in report order.
func (r Reading) Fields() []string {
	return []string{
		r.Name,
		r.Value,
		r.Unit,
		r.Status,
		r.LowerNonRecoverable,
		r.LowerCritical,
		r.LowerNonCritical,
		r.UpperNonCritical,
		r.UpperCritical,
		r.UpperNonRecoverable,
	}
}

// String renders the reading back into report form.
func (r Reading) String() string {
	return strings.Join(r.Fields(), " "+delimiter+" ")
}
