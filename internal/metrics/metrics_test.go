package metrics_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(temp, previous, target int) *metrics.Snapshot {
	return &metrics.Snapshot{
		Timestamp:   time.Unix(1700000000, 0),
		RunID:       "run-1",
		Sensor:      "CPU_Diode_Temp",
		Temperature: metrics.TempMetrics{Value: temp, Unit: "degrees C", Valid: true},
		FanSpeed:    metrics.FanMetrics{Previous: previous, Target: target, Changed: previous != target},
	}
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestNewServiceDisabled(t *testing.T) {
	c, err := metrics.NewService(metrics.DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Record(context.Background(), snapshot(70, 10, 15)))
	require.NoError(t, c.Close())
}

func TestNewServiceInvalidConfig(t *testing.T) {
	_, err := metrics.NewService(metrics.Config{Enabled: true}, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidDBPath))
}

func TestNewServiceUnwritableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := metrics.NewService(metrics.Config{Enabled: true, DBPath: filepath.Join(blocker, "metrics.db")}, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInitFailed))
}

func TestRecordWritesCycles(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "metrics.db")

	c, err := metrics.NewService(metrics.Config{Enabled: true, DBPath: dbPath}, logger.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Record(ctx, snapshot(70, 10, 15)))

	failed := &metrics.Snapshot{
		Timestamp: time.Unix(1700000060, 0),
		RunID:     "run-1",
		Sensor:    "CPU_Diode_Temp",
		FanSpeed:  metrics.FanMetrics{Previous: 15, Target: 15},
		Failure:   metrics.FailureMetrics{Code: "sensor_not_found", Message: "Sensor not found in report"},
	}
	require.NoError(t, c.Record(ctx, failed))
	require.NoError(t, c.Close())

	db := openDB(t, dbPath)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&count))
	assert.Equal(t, 2, count)

	var (
		temp      sql.NullInt64
		target    int
		changed   int
		errorCode string
	)
	require.NoError(t, db.QueryRow(
		`SELECT temperature, target_percent, changed, error_code FROM cycles ORDER BY id LIMIT 1`,
	).Scan(&temp, &target, &changed, &errorCode))
	assert.True(t, temp.Valid)
	assert.Equal(t, int64(70), temp.Int64)
	assert.Equal(t, 15, target)
	assert.Equal(t, 1, changed)
	assert.Empty(t, errorCode)

	require.NoError(t, db.QueryRow(
		`SELECT temperature, error_code FROM cycles ORDER BY id DESC LIMIT 1`,
	).Scan(&temp, &errorCode))
	assert.False(t, temp.Valid)
	assert.Equal(t, "sensor_not_found", errorCode)

	version, err := metrics.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, metrics.SchemaVersion, version)
}

func TestBatchedRecordFlushesOnClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")

	repo, err := metrics.NewRepository(metrics.Config{DBPath: dbPath, BatchSize: 10, BatchTimeout: 3600}, logger.Nop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Record(snapshot(60+i, 10, 10)))
	}
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())

	var count int
	require.NoError(t, openDB(t, dbPath).QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestSchemaVersionMismatchBacksUp(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "metrics.db")

	old := openDB(t, dbPath)
	_, err := old.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));
		CREATE TABLE cycles (legacy TEXT);`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	repo, err := metrics.NewRepository(metrics.Config{DBPath: dbPath}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Record(snapshot(70, 10, 15)))
	require.NoError(t, repo.Close())

	backups, err := filepath.Glob(filepath.Join(dir, "backups", "metrics_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	version, err := metrics.GetSchemaVersion(openDB(t, dbPath))
	require.NoError(t, err)
	assert.Equal(t, metrics.SchemaVersion, version)

	_, err = os.Stat(backups[0])
	require.NoError(t, err)
}

type recordingCollector struct {
	records int
	closed  bool
	err     error
}

func (r *recordingCollector) Record(_ context.Context, _ *metrics.Snapshot) error {
	r.records++
	return r.err
}

func (r *recordingCollector) Close() error {
	r.closed = true
	return r.err
}

func TestMulti(t *testing.T) {
	failing := &recordingCollector{err: errors.New().New(errors.ErrChannel)}
	ok := &recordingCollector{}

	m := metrics.Multi(nil, failing, ok)

	err := m.Record(context.Background(), snapshot(70, 10, 15))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrChannel))
	assert.Equal(t, 1, failing.records)
	assert.Equal(t, 1, ok.records)

	require.Error(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestMultiCollapses(t *testing.T) {
	only := &recordingCollector{}
	assert.Same(t, only, metrics.Multi(nil, only))

	require.NoError(t, metrics.Multi().Record(context.Background(), snapshot(70, 10, 15)))
}
