package db

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/leapmail/mx/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRow struct {
	err error
}

func (r stubRow) Scan(dest ...any) error {
	return r.err
}

func TestTimedRowScanRecordsOutcome(t *testing.T) {
	// Distinct operation labels keep the package-global counters
	// independent per case.
	row := &timedRow{row: stubRow{}, operation: "scan_ok", start: time.Now()}
	require.NoError(t, row.Scan())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DBQueriesTotal.WithLabelValues("scan_ok", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.DBQueriesTotal.WithLabelValues("scan_ok", "failure")))

	// Absence of a row is a normal outcome.
	row = &timedRow{row: stubRow{err: pgx.ErrNoRows}, operation: "scan_norows", start: time.Now()}
	require.ErrorIs(t, row.Scan(), pgx.ErrNoRows)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DBQueriesTotal.WithLabelValues("scan_norows", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.DBQueriesTotal.WithLabelValues("scan_norows", "failure")))

	// A real query fault is counted as a failure, not a success.
	row = &timedRow{row: stubRow{err: errors.New("connection reset")}, operation: "scan_fault", start: time.Now()}
	require.Error(t, row.Scan())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.DBQueriesTotal.WithLabelValues("scan_fault", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DBQueriesTotal.WithLabelValues("scan_fault", "failure")))
}
