package legacy

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"siapxml/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Target resolution
// ─────────────────────────────────────────────────────────────

func params(path string) domain.LegacyConnectionParams {
	return domain.LegacyConnectionParams{Path: path}.Normalize()
}

func TestResolveTarget_Network(t *testing.T) {
	tests := []struct {
		path, host, file, dsn string
	}{
		{"192.168.1.1:C:/db/CNES.GDB", "192.168.1.1", "C:/db/CNES.GDB",
			"SYSDBA:masterkey@192.168.1.1/C:/db/CNES.GDB?charset=WIN1252"},
		{"/var/lib/cnes.fdb", "localhost", "/var/lib/cnes.fdb",
			"SYSDBA:masterkey@localhost//var/lib/cnes.fdb?charset=WIN1252"},
		{"C:/db/CNES.GDB", "localhost", "C:/db/CNES.GDB",
			"SYSDBA:masterkey@localhost/C:/db/CNES.GDB?charset=WIN1252"},
		{"server/3051:/data/fpo.gdb", "server:3051", "/data/fpo.gdb",
			"SYSDBA:masterkey@server:3051//data/fpo.gdb?charset=WIN1252"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			target, err := resolveTarget(StrategyNetwork, params(tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.host, target.Host)
			assert.Equal(t, tt.file, target.File)
			assert.Equal(t, tt.dsn, target.DSN)
		})
	}
}

func TestResolveTarget_LocalRejectsRemoteHost(t *testing.T) {
	_, err := resolveTarget(StrategyLocal, params("192.168.1.1:C:/db"))
	assert.ErrorIs(t, err, ErrRemoteInPath)
}

func TestResolveTarget_LocalRewritesPath(t *testing.T) {
	target, err := resolveTarget(StrategyLocal, params(`localhost:C:\SIH\SIH.GDB`))
	require.NoError(t, err)
	assert.Equal(t, "C:/SIH/SIH.GDB", target.File)
	assert.Equal(t,
		"SYSDBA:masterkey@localhost/C:/SIH/SIH.GDB?auth_plugin_name=Legacy_Auth&charset=WIN1252&wire_crypt=false",
		target.DSN)
}

func TestSplitHost_DriveLetter(t *testing.T) {
	host, file := splitHost("D:/CNES/CNES.GDB")
	assert.Equal(t, "", host)
	assert.Equal(t, "D:/CNES/CNES.GDB", file)
}

// ─────────────────────────────────────────────────────────────
// Connect + classification
// ─────────────────────────────────────────────────────────────

// scriptedOpener fails each strategy with the given error (nil = succeed)
// and records the strategies it was asked to open.
type scriptedOpener struct {
	errs  map[Strategy]error
	tried []Strategy
}

func (s *scriptedOpener) open(_ context.Context, t Target) (DB, error) {
	s.tried = append(s.tried, t.Strategy)
	if err := s.errs[t.Strategy]; err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	return db, nil
}

func tempDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "CNES.GDB")
	require.NoError(t, os.WriteFile(path, []byte("fake"), 0o644))
	return path
}

func TestConnect_FallsBackToLocal(t *testing.T) {
	op := &scriptedOpener{errs: map[Strategy]error{StrategyNetwork: errors.New("connection refused")}}
	conn, err := Connect(context.Background(), params(tempDatabase(t)), op.open, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, StrategyLocal, conn.Strategy())
	assert.Equal(t, []Strategy{StrategyNetwork, StrategyLocal}, op.tried)
}

func TestConnect_NetworkFirst(t *testing.T) {
	op := &scriptedOpener{}
	conn, err := Connect(context.Background(), params(tempDatabase(t)), op.open, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, StrategyNetwork, conn.Strategy())
	assert.Equal(t, []Strategy{StrategyNetwork}, op.tried)
}

func TestConnect_RemotePathSkipsLocal(t *testing.T) {
	op := &scriptedOpener{errs: map[Strategy]error{StrategyNetwork: errors.New("i/o timeout")}}
	_, err := Connect(context.Background(), params("192.168.1.1:C:/db"), op.open, nil)
	require.Error(t, err)

	assert.Equal(t, []Strategy{StrategyNetwork}, op.tried)
	assert.ErrorIs(t, err, domain.ErrTransportFailed)
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.Contains(t, domain.DiagnosticOf(err), "network: i/o timeout")
	assert.Contains(t, domain.DiagnosticOf(err), "local: path names a remote host")
}

func TestConnect_LockedFile(t *testing.T) {
	unavailable := errors.New("I/O error during CreateFile (open) operation; unavailable database")
	op := &scriptedOpener{errs: map[Strategy]error{StrategyNetwork: unavailable, StrategyLocal: unavailable}}

	_, err := Connect(context.Background(), params(tempDatabase(t)), op.open, nil)
	assert.ErrorIs(t, err, domain.ErrLocalAccess)
}

func TestConnect_DriverIncompatible(t *testing.T) {
	op := &scriptedOpener{errs: map[Strategy]error{
		StrategyNetwork: errors.New("connection refused"),
		StrategyLocal:   errors.New("fb_interpret not found in client library"),
	}}
	_, err := Connect(context.Background(), params(tempDatabase(t)), op.open, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDriverIncompat)
	assert.Equal(t, domain.KindDriverIncompatible, domain.KindOf(err))
}

func TestConnect_MissingFile(t *testing.T) {
	op := &scriptedOpener{}
	_, err := Connect(context.Background(), params(filepath.Join(t.TempDir(), "missing.gdb")), op.open, nil)
	assert.ErrorIs(t, err, domain.ErrPathNotFound)
	assert.Empty(t, op.tried)
}

func TestConnect_TrimsQuotedPath(t *testing.T) {
	path := tempDatabase(t)
	op := &scriptedOpener{}
	conn, err := Connect(context.Background(), domain.LegacyConnectionParams{Path: ` "` + path + `" `}, op.open, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestLocalFile(t *testing.T) {
	file, ok := LocalFile(`"C:\SIH\SIH.GDB"`)
	assert.True(t, ok)
	assert.Equal(t, `C:\SIH\SIH.GDB`, file)

	file, ok = LocalFile("localhost:/data/cnes.fdb")
	assert.True(t, ok)
	assert.Equal(t, "/data/cnes.fdb", file)

	_, ok = LocalFile("192.168.1.1:C:/db/CNES.GDB")
	assert.False(t, ok)
}
