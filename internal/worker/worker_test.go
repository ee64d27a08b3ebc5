package worker

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"siapxml/internal/bridge"
	"siapxml/internal/domain"
	"siapxml/internal/layout"
	"siapxml/internal/legacy"
	"siapxml/internal/storage"
)

// legacyFixture creates an SQLite file standing in for the FPO database;
// the runner's opener ignores the resolved target and opens it directly.
func legacyFixture(t *testing.T) (string, *Runner) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "FPO.GDB")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE S_IPU (IPU_UID TEXT, IPU_PA TEXT, IPU_TPFIN TEXT,
		IPU_QT_O INTEGER, IPU_VU_O REAL, IPU_VL_O REAL, IPU_CMP TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO S_IPU VALUES
		('2000001', '301010072', '2', 12, 10.5, 126, '202403'),
		('2000002', '202010503', '1', 3, 1.85, 5.55, '202403'),
		('2000003', '202010503', '9', 1, 1, 1, '202402')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r := NewRunner(zap.NewNop())
	r.Open = func(_ context.Context, _ legacy.Target) (legacy.DB, error) {
		return sql.Open("sqlite", path)
	}
	return path, r
}

func budgetMapping(t *testing.T) string {
	t.Helper()
	reg, err := layout.Default()
	require.NoError(t, err)
	def, err := reg.Get("11.5")
	require.NoError(t, err)
	m, err := layout.EncodeMapping(def)
	require.NoError(t, err)
	return m
}

// ─────────────────────────────────────────────────────────────
// Operations
// ─────────────────────────────────────────────────────────────

func TestRun_ExtractStoresLayout(t *testing.T) {
	dsn, r := legacyFixture(t)
	out := filepath.Join(t.TempDir(), "siapxml.db")

	res := r.Run(context.Background(), bridge.SelectExtract, Options{
		DSN: dsn, Layout: "11.5", Mapping: budgetMapping(t), Competencia: "202403", Output: out,
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.LayoutID("11.5"), res.Layout)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, out, res.Output)

	store, err := storage.OpenSQLite(context.Background(), out)
	require.NoError(t, err)
	defer store.Close()
	set, err := store.Load(context.Background(), "11.5")
	require.NoError(t, err)
	require.Len(t, set.Records, 2)
	assert.Equal(t, "0301010072", set.Records[0]["Procedimento"])
	assert.Equal(t, "MAC", set.Records[0]["Financiamento"])
	assert.Equal(t, "PAB", set.Records[1]["Financiamento"])
}

func TestRun_ExtractWireMapping(t *testing.T) {
	dsn, r := legacyFixture(t)
	out := filepath.Join(t.TempDir(), "siapxml.db")
	mapping := `{"table_main": "S_IPU", "columns_main": {
		"CNES": "IPU_UID", "Procedimento": "IPU_PA", "Financiamento": "IPU_TPFIN",
		"Quantidade": "IPU_QT_O", "ValorUnitario": "IPU_VU_O", "ValorTotal": "IPU_VL_O"}}`

	res := r.Run(context.Background(), bridge.SelectExtract, Options{
		DSN: dsn, Layout: "11.5", Mapping: mapping, Competencia: "202403", Output: out,
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.LayoutID("11.5"), res.Layout)
	assert.Equal(t, 2, res.Rows)
}

func TestRun_ExtractTwiceReplaces(t *testing.T) {
	dsn, r := legacyFixture(t)
	out := filepath.Join(t.TempDir(), "siapxml.db")
	opts := Options{DSN: dsn, Layout: "11.5", Mapping: budgetMapping(t), Output: out}

	first := r.Run(context.Background(), bridge.SelectExtract, opts)
	require.True(t, first.Success, first.Error)
	assert.Equal(t, 3, first.Rows)

	opts.Competencia = "202402"
	second := r.Run(context.Background(), bridge.SelectExtract, opts)
	require.True(t, second.Success, second.Error)

	store, err := storage.OpenSQLite(context.Background(), out)
	require.NoError(t, err)
	defer store.Close()
	set, err := store.Load(context.Background(), "11.5")
	require.NoError(t, err)
	require.Len(t, set.Records, 1)
	assert.Equal(t, "2000003", set.Records[0]["CNES"])
}

func TestRun_ExtractFailureKeepsStore(t *testing.T) {
	dsn, r := legacyFixture(t)
	out := filepath.Join(t.TempDir(), "siapxml.db")
	require.True(t, r.Run(context.Background(), bridge.SelectExtract,
		Options{DSN: dsn, Layout: "11.5", Mapping: budgetMapping(t), Output: out}).Success)

	res := r.Run(context.Background(), bridge.SelectExtract,
		Options{DSN: dsn, Layout: "11.5", Mapping: budgetMapping(t), Competencia: "2024-03", Output: out})
	require.False(t, res.Success)
	assert.Equal(t, string(domain.KindExtraction), res.Kind)

	store, err := storage.OpenSQLite(context.Background(), out)
	require.NoError(t, err)
	defer store.Close()
	set, err := store.Load(context.Background(), "11.5")
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
}

func TestRun_PreviewNeedsTable(t *testing.T) {
	dsn, r := legacyFixture(t)
	res := r.Run(context.Background(), bridge.SelectPreview, Options{DSN: dsn})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "--table")

	res = r.Run(context.Background(), bridge.SelectPreview, Options{DSN: dsn, Table: "S_IPU; DROP TABLE S_IPU"})
	require.False(t, res.Success)
	assert.Equal(t, string(domain.KindExtraction), res.Kind)
}

func TestRun_Check(t *testing.T) {
	dsn, r := legacyFixture(t)
	res := r.Run(context.Background(), bridge.SelectCheck, Options{DSN: dsn})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, string(legacy.StrategyNetwork), res.Output)
}

func TestRun_MissingFile(t *testing.T) {
	_, r := legacyFixture(t)
	res := r.Run(context.Background(), bridge.SelectCheck,
		Options{DSN: filepath.Join(t.TempDir(), "absent.gdb")})
	require.False(t, res.Success)
	assert.Equal(t, string(domain.KindPathNotFound), res.Kind)
	assert.ErrorIs(t, res.Failure(), domain.ErrPathNotFound)
}

func TestRun_BadRequests(t *testing.T) {
	dsn, r := legacyFixture(t)
	out := filepath.Join(t.TempDir(), "siapxml.db")
	for name, o := range map[string]Options{
		"no mapping":      {DSN: dsn, Layout: "11.5", Output: out},
		"no output":       {DSN: dsn, Layout: "11.5", Mapping: budgetMapping(t)},
		"no layout":       {DSN: dsn, Mapping: budgetMapping(t), Output: out},
		"bad mapping":     {DSN: dsn, Layout: "11.5", Mapping: `{"table_main":`, Output: out},
		"unknown layout":  {DSN: dsn, Layout: "9.9", Mapping: `{}`, Output: out},
		"layout mismatch": {DSN: dsn, Layout: "11.5", Mapping: `{"layout":"11.1"}`, Output: out},
		"unknown target":  {DSN: dsn, Layout: "11.5", Mapping: `{"columns_main":{"Nome":"X"}}`, Output: out},
	} {
		res := r.Run(context.Background(), bridge.SelectExtract, o)
		assert.False(t, res.Success, name)
		assert.Equal(t, string(domain.KindExtraction), res.Kind, name)
	}

	res := r.Run(context.Background(), "format-disk", Options{DSN: dsn})
	assert.False(t, res.Success)
}

func TestFailure_Message(t *testing.T) {
	res := Failure(domain.ExtractionError("query legacy store", assert.AnError))
	assert.Equal(t, "query legacy store: "+assert.AnError.Error(), res.Error)
	assert.Equal(t, "extraction", res.Kind)

	res = Failure(assert.AnError)
	assert.Equal(t, assert.AnError.Error(), res.Error)
	assert.Equal(t, "extraction", res.Kind)
}

// ─────────────────────────────────────────────────────────────
// Command line
// ─────────────────────────────────────────────────────────────

func execute(t *testing.T, r *Runner, args ...string) (*domain.WorkerResult, error) {
	t.Helper()
	cmd := NewCommand("siapxml-worker", r)
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())

	res, perr := bridge.ParseResult(stdout.Bytes())
	require.NoError(t, perr, stdout.String())
	assert.Equal(t, 1, bytes.Count(bytes.TrimSpace(stdout.Bytes()), []byte("\n"))+1)
	return res, err
}

func TestCommand_Extract(t *testing.T) {
	dsn, r := legacyFixture(t)
	res, err := execute(t, r, "extract",
		"--dsn", dsn, "--user", "SYSDBA", "--password", "masterkey",
		"--layout", "11.5", "--mapping", budgetMapping(t), "--competencia", "202403",
		"--output", filepath.Join(t.TempDir(), "siapxml.db"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Rows)
}

func TestCommand_FailureExitsNonZero(t *testing.T) {
	_, r := legacyFixture(t)
	res, err := execute(t, r, "check", "--dsn", "/nonexistent/CNES.GDB")
	assert.ErrorIs(t, err, ErrFailed)
	assert.False(t, res.Success)
}

func TestCommand_BadFlag(t *testing.T) {
	_, r := legacyFixture(t)
	res, err := execute(t, r, "check", "--no-such-flag")
	assert.ErrorIs(t, err, ErrFailed)
	assert.False(t, res.Success)
}
