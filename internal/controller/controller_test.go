package controller_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/controller"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/ipmi"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/metrics"
	"codeberg.org/mutker/ipmifanctl/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reportTemplate = `Inlet_Temp       | 24.000     | degrees C  | ok    | na        | 0.000     | 5.000     | 40.000    | 45.000    | na
CPU_Diode_Temp   | %s     | degrees C  | ok    | na        | na        | na        | 95.000    | 100.000   | na
FAN2             | 4200.000   | RPM        | ok    | na        | 500.000   | na        | na        | na        | na
`

func report(value string) string {
	return fmt.Sprintf(reportTemplate, value)
}

type fanSet struct {
	fan     int
	percent int
}

type fakeChannel struct {
	reports  []string
	fetchErr error
	failFan  int
	fetches  int
	sets     []fanSet
	onFetch  func(n int)
}

func (f *fakeChannel) FetchSensorReport(_ context.Context, _ ...ipmi.CallOption) (string, error) {
	f.fetches++
	if f.onFetch != nil {
		f.onFetch(f.fetches)
	}

	if f.fetchErr != nil {
		return "", f.fetchErr
	}

	i := min(f.fetches, len(f.reports)) - 1
	return f.reports[i], nil
}

func (f *fakeChannel) SetFanPercent(_ context.Context, fan, percent int, _ ...ipmi.CallOption) error {
	if fan == f.failFan {
		return errors.New().WithData(errors.ErrChannel, "set failed")
	}
	f.sets = append(f.sets, fanSet{fan: fan, percent: percent})

	return nil
}

func (f *fakeChannel) fans(percent int) []fanSet {
	var sets []fanSet
	for _, s := range f.sets {
		if s.percent == percent {
			sets = append(sets, s)
		}
	}
	return sets
}

type captureCollector struct {
	snapshots []*metrics.Snapshot
}

func (c *captureCollector) Record(_ context.Context, s *metrics.Snapshot) error {
	c.snapshots = append(c.snapshots, s)
	return nil
}

func (c *captureCollector) Close() error { return nil }

func defaultConfig() controller.Config {
	return controller.Config{
		Policy: policy.Config{
			DefaultPercent: 10,
			MaxPercent:     50,
			Step:           policy.Step,
			Threshold:      65,
		},
		Sensor:   "CPU_Diode_Temp",
		Interval: time.Millisecond,
	}
}

func newController(t *testing.T, ch *fakeChannel, opts ...controller.Option) *controller.Controller {
	t.Helper()

	c, err := controller.New(ch, defaultConfig(), logger.Nop(), opts...)
	require.NoError(t, err)

	return c
}

func TestNewValidates(t *testing.T) {
	cfg := defaultConfig()
	cfg.Interval = 0
	_, err := controller.New(&fakeChannel{}, cfg, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))

	cfg = defaultConfig()
	cfg.Policy.Step = 0
	_, err = controller.New(&fakeChannel{}, cfg, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestStartSetsDefault(t *testing.T) {
	ch := &fakeChannel{}
	c := newController(t, ch)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, []fanSet{{2, 10}, {3, 10}, {4, 10}, {5, 10}, {6, 10}}, ch.sets)
	assert.Equal(t, 10, c.State().ActivePercent)
	assert.Zero(t, ch.fetches)
}

func TestStartFailurePropagates(t *testing.T) {
	ch := &fakeChannel{failFan: 2}
	c := newController(t, ch)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrChannel))
}

func TestStepUp(t *testing.T) {
	ch := &fakeChannel{reports: []string{report("70.000")}}
	collector := &captureCollector{}
	c := newController(t, ch, controller.WithCollector(collector))

	require.NoError(t, c.Step(context.Background()))
	assert.Equal(t, 15, c.State().ActivePercent)
	assert.Equal(t, []fanSet{{2, 15}, {3, 15}, {4, 15}, {5, 15}, {6, 15}}, ch.sets)

	require.Len(t, collector.snapshots, 1)
	s := collector.snapshots[0]
	assert.Equal(t, 70, s.Temperature.Value)
	assert.True(t, s.Temperature.Valid)
	assert.Equal(t, "degrees C", s.Temperature.Unit)
	assert.Equal(t, metrics.FanMetrics{Previous: 10, Target: 15, Changed: true}, s.FanSpeed)
	assert.Equal(t, c.RunID(), s.RunID)
	assert.False(t, s.Failed())
}

func TestResetToDefault(t *testing.T) {
	reports := []string{}
	for i := 0; i < 5; i++ {
		reports = append(reports, report("80.000"))
	}
	reports = append(reports, report("60.000"))

	ch := &fakeChannel{reports: reports}
	c := newController(t, ch)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Step(ctx))
	}
	require.Equal(t, 35, c.State().ActivePercent)

	require.NoError(t, c.Step(ctx))
	assert.Equal(t, 10, c.State().ActivePercent)
	assert.Len(t, ch.fans(10), 5, "reset must command every fan")
}

func TestUnchangedSendsNothing(t *testing.T) {
	ch := &fakeChannel{reports: []string{report("65.000")}}
	collector := &captureCollector{}
	c := newController(t, ch, controller.WithCollector(collector))

	require.NoError(t, c.Step(context.Background()))
	assert.Equal(t, 10, c.State().ActivePercent)
	assert.Empty(t, ch.sets)
	assert.False(t, collector.snapshots[0].FanSpeed.Changed)
}

func TestSensorNotFound(t *testing.T) {
	ch := &fakeChannel{reports: []string{
		"Inlet_Temp | 24.000 | degrees C | ok | na | 0.000 | 5.000 | 40.000 | 45.000 | na\n",
	}}
	collector := &captureCollector{}
	c := newController(t, ch, controller.WithCollector(collector))

	err := c.Step(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSensorNotFound))
	assert.Equal(t, 10, c.State().ActivePercent)
	assert.Empty(t, ch.sets)

	require.Len(t, collector.snapshots, 1)
	assert.Equal(t, "sensor_not_found", collector.snapshots[0].Failure.Code)
	assert.False(t, collector.snapshots[0].Temperature.Valid)
}

func TestMalformedLine(t *testing.T) {
	ch := &fakeChannel{reports: []string{
		"CPU_Diode_Temp | 70.000 | degrees C | ok | na | na | na | 95.000 | 100.000\n",
	}}
	c := newController(t, ch)

	err := c.Step(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrParse))
	assert.Equal(t, 10, c.State().ActivePercent)
}

func TestNonNumericValue(t *testing.T) {
	ch := &fakeChannel{reports: []string{report("na")}}
	c := newController(t, ch)

	err := c.Step(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrParse))
	assert.Equal(t, 10, c.State().ActivePercent)
}

func TestChannelFailureKeepsState(t *testing.T) {
	ch := &fakeChannel{fetchErr: errors.New().WithData(errors.ErrChannel, "timeout")}
	c := newController(t, ch)

	err := c.Step(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrChannel))
	assert.Equal(t, 10, c.State().ActivePercent)
}

// A failed channel aborts the rest of the set, yet the active percent
// tracks the intended target.
func TestPartialFanSetFailure(t *testing.T) {
	ch := &fakeChannel{
		reports: []string{report("70.000"), report("65.000")},
		failFan: 4,
	}
	c := newController(t, ch)

	err := c.Step(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSetFanSpeed))
	assert.Equal(t, []fanSet{{2, 15}, {3, 15}}, ch.sets)
	assert.Equal(t, 15, c.State().ActivePercent)

	ch.failFan = 0
	require.NoError(t, c.Step(context.Background()))
	assert.Equal(t, 15, c.State().ActivePercent)
	assert.Equal(t, []fanSet{{2, 15}, {3, 15}}, ch.sets, "no reissue without a target change")
}

func TestMonitorModeNeverSetsFans(t *testing.T) {
	cfg := defaultConfig()
	cfg.Monitor = true

	ch := &fakeChannel{reports: []string{report("70.000")}}
	c, err := controller.New(ch, cfg, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Step(context.Background()))
	assert.Empty(t, ch.sets)
	assert.Equal(t, 15, c.State().ActivePercent)
}

func TestStateStaysInRange(t *testing.T) {
	temps := []string{"70", "90", "90", "90", "90", "90", "90", "90", "90", "90", "64", "66", "65", "30"}
	reports := make([]string, 0, len(temps))
	for _, temp := range temps {
		reports = append(reports, report(temp))
	}

	ch := &fakeChannel{reports: reports}
	c := newController(t, ch)

	for range temps {
		require.NoError(t, c.Step(context.Background()))
		assert.GreaterOrEqual(t, c.State().ActivePercent, 10)
		assert.LessOrEqual(t, c.State().ActivePercent, 50)
	}
	assert.Equal(t, 10, c.State().ActivePercent)
}

func TestRunContinuesAfterFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := &fakeChannel{
		reports: []string{
			"garbage\n",
			"Inlet_Temp | 24.000 | degrees C | ok | na | 0.000 | 5.000 | 40.000 | 45.000 | na\n",
			report("70.000"),
		},
	}
	ch.onFetch = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	var logs bytes.Buffer
	c, err := controller.New(ch, defaultConfig(), logger.New(&logs))
	require.NoError(t, err)

	require.NoError(t, c.Run(ctx))

	assert.GreaterOrEqual(t, ch.fetches, 3)
	assert.Equal(t, 15, c.State().ActivePercent)
	assert.Contains(t, logs.String(), `"error_code":"parse_error"`)
	assert.Contains(t, logs.String(), `"error_code":"sensor_not_found"`)
}

func TestRunSleepsFullIntervalAfterSlowStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const interval = 100 * time.Millisecond

	var firstEnd, secondStart time.Time
	ch := &fakeChannel{reports: []string{report("65.000")}}
	ch.onFetch = func(n int) {
		switch n {
		case 1:
			time.Sleep(3*interval + interval/2)
			firstEnd = time.Now()
		case 2:
			secondStart = time.Now()
			cancel()
		}
	}

	cfg := defaultConfig()
	cfg.Interval = interval
	c, err := controller.New(ch, cfg, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, c.Run(ctx))

	require.Equal(t, 2, ch.fetches)
	assert.GreaterOrEqual(t, secondStart.Sub(firstEnd), interval)
}

func TestRunStartFailure(t *testing.T) {
	ch := &fakeChannel{failFan: 3}
	c := newController(t, ch)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, ch.fetches)
}
