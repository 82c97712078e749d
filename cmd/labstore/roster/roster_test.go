package roster

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/metrics"
)

func writeRoster(t *testing.T, path string, rows [][]any) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func TestParseRows(t *testing.T) {
	rows := [][]string{
		{"PN RE LAB employee list"},
		{},
		{"Dept", " EMPLOYEE # ", "name "},
		{"MI", "1001", "Alex Kim"},
		{"Chem", "", "No Id"},
		{"Chem", " 1002 ", " Sam Lee "},
		{"MI", "1003"},
	}

	employees, err := ParseRows(rows)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"1001": "Alex Kim",
		"1002": "Sam Lee",
		"1003": "",
	}, employees)
}

func TestParseRowsMissingHeader(t *testing.T) {
	_, err := ParseRows([][]string{{"Id", "Full name"}, {"1", "x"}})
	assert.Error(t, err)

	_, err = ParseRows(nil)
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "EMPLOYEE_LIST.xlsx")
	writeRoster(t, path, [][]any{
		{"Employee #", "Name"},
		{1001, "Alex Kim"},
		{"1002", "Sam Lee"},
	})

	employees, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Alex Kim", employees["1001"])
	assert.Equal(t, "Sam Lee", employees["1002"])
}

func TestRosterFallback(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "fallback.xlsx")
	writeRoster(t, fallback, [][]any{{"Employee #", "Name"}, {"7", "Fallback Person"}})

	m := metrics.New("test")
	r := New(config.RosterConfig{
		Path:         filepath.Join(dir, "missing", "EMPLOYEE_LIST.xlsx"),
		FallbackPath: fallback,
	}, m, logger.Discard())

	require.NoError(t, r.Reload())
	name, ok := r.Lookup(" 7 ")
	assert.True(t, ok)
	assert.Equal(t, "Fallback Person", name)
	assert.Equal(t, fallback, r.Source())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RosterEmployees))
}

func TestRosterNoFile(t *testing.T) {
	dir := t.TempDir()
	r := New(config.RosterConfig{
		Path:         filepath.Join(dir, "a.xlsx"),
		FallbackPath: filepath.Join(dir, "b.xlsx"),
	}, nil, logger.Discard())

	assert.ErrorIs(t, r.Reload(), ErrNoRoster)
	assert.Equal(t, 0, r.Len())
	_, ok := r.Lookup("1")
	assert.False(t, ok)
}

func TestRosterKeepsPreviousOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "EMPLOYEE_LIST.xlsx")
	writeRoster(t, path, [][]any{{"Employee #", "Name"}, {"1", "One"}})

	r := New(config.RosterConfig{Path: path}, nil, logger.Discard())
	require.NoError(t, r.Reload())

	writeRoster(t, path, [][]any{{"Wrong", "Header"}})
	assert.Error(t, r.Reload())

	name, ok := r.Lookup("1")
	assert.True(t, ok)
	assert.Equal(t, "One", name)
}

func TestRosterReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "EMPLOYEE_LIST.xlsx")
	writeRoster(t, path, [][]any{{"Employee #", "Name"}, {"1", "One"}})

	r := New(config.RosterConfig{Path: path, ReloadInterval: time.Hour}, nil, logger.Discard())
	r.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Equal(t, 1, r.Len())

	writeRoster(t, path, [][]any{{"Employee #", "Name"}, {"1", "One"}, {"2", "Two"}})

	assert.Eventually(t, func() bool {
		_, ok := r.Lookup("2")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRosterStopIsIdempotent(t *testing.T) {
	r := New(config.RosterConfig{Path: filepath.Join(t.TempDir(), "x.xlsx")}, nil, logger.Discard())
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
}
