package sensor_test

import (
	"strings"
	"testing"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cpuLine = "CPU_Diode_Temp | 70.000 | degrees C | ok | na | na | na | 95.000 | 100.000 | na"

const report = `Inlet_Temp       | 24.000     | degrees C  | ok    | na        | 0.000     | 5.000     | 40.000    | 45.000    | na
CPU_Diode_Temp   | 70.000     | degrees C  | ok    | na        | na        | na        | 95.000    | 100.000   | na

FAN2             | 4200.000   | RPM        | ok    | na        | 500.000   | na        | na        | na        | na
PS1_Status       | 0x1        | discrete   | 0x0100| na        | na        | na        | na        | na        | na
`

func TestParseLine(t *testing.T) {
	r, err := sensor.ParseLine(cpuLine)
	require.NoError(t, err)

	assert.Equal(t, sensor.Reading{
		Name:                "CPU_Diode_Temp",
		Value:               "70.000",
		Unit:                "degrees C",
		Status:              "ok",
		LowerNonRecoverable: "na",
		LowerCritical:       "na",
		LowerNonCritical:    "na",
		UpperNonCritical:    "95.000",
		UpperCritical:       "100.000",
		UpperNonRecoverable: "na",
	}, r)

	temp, err := r.Temperature()
	require.NoError(t, err)
	assert.Equal(t, 70, temp)
}

func TestParseLineMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"nine fields", "CPU_Diode_Temp | 70.000 | degrees C | ok | na | na | na | 95.000 | 100.000"},
		{"eleven fields", cpuLine + " | extra"},
		{"no delimiter", "garbage"},
		{"empty value", "CPU_Diode_Temp||degrees C|ok|na|na|na|95.000|100.000|na"},
		{"blank name", "   | 70.000 | degrees C | ok | na | na | na | 95.000 | 100.000 | na"},
		{"blank last field", "CPU_Diode_Temp | 70.000 | degrees C | ok | na | na | na | 95.000 | 100.000 |  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sensor.ParseLine(tt.line)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrParse))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	lines := []string{
		cpuLine,
		"  FAN2|4200.000|RPM|ok|na|500.000|na|na|na|na  ",
		"PS1_Status\t| 0x1 |discrete|0x0100| na | na | na | na | na | na",
	}

	for _, line := range lines {
		r, err := sensor.ParseLine(line)
		require.NoError(t, err)

		again, err := sensor.ParseLine(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, again)

		want := strings.Split(line, "|")
		for i := range want {
			want[i] = strings.TrimSpace(want[i])
		}
		assert.Equal(t, want, r.Fields())
	}
}

func TestParseReport(t *testing.T) {
	readings, err := sensor.ParseReport(report)
	require.NoError(t, err)
	require.Len(t, readings, 4)

	names := make([]string, 0, len(readings))
	for _, r := range readings {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"Inlet_Temp", "CPU_Diode_Temp", "FAN2", "PS1_Status"}, names)
}

func TestParseReportCRLF(t *testing.T) {
	readings, err := sensor.ParseReport(cpuLine + "\r\n" + cpuLine + "\r\n")
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, "na", readings[1].UpperNonRecoverable)
}

func TestParseReportMalformedLine(t *testing.T) {
	bad := report + "CPU_Diode_Temp | 70.000 | degrees C | ok | na | na | na | 95.000 | 100.000\n"

	readings, err := sensor.ParseReport(bad)
	require.Error(t, err)
	assert.Nil(t, readings)
	assert.True(t, errors.HasCode(err, errors.ErrParse))
	assert.Contains(t, err.Error(), "line 6")
}

func TestParseReportEmpty(t *testing.T) {
	readings, err := sensor.ParseReport("\n  \n")
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestFind(t *testing.T) {
	readings, err := sensor.ParseReport(report)
	require.NoError(t, err)

	r, err := sensor.Find(readings, sensor.CPUTemperature)
	require.NoError(t, err)
	assert.Equal(t, "70.000", r.Value)

	_, err = sensor.Find(readings, "CPU1_Temp")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSensorNotFound))
	assert.False(t, errors.HasCode(err, errors.ErrParse))
	assert.Contains(t, err.Error(), "CPU1_Temp")
}

func TestTemperature(t *testing.T) {
	tests := []struct {
		value string
		want  int
		ok    bool
	}{
		{"70.000", 70, true},
		{"65.999", 65, true},
		{"-3.5", -3, true},
		{"42", 42, true},
		{"na", 0, false},
		{"0x1", 0, false},
		{"NaN", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := sensor.Reading{Name: "CPU_Diode_Temp", Value: tt.value}.Temperature()
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrParse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
