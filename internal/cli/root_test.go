package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siapxml/internal/bridge"
	"siapxml/internal/domain"
	"siapxml/internal/worker"
	"siapxml/internal/xmlout"
)

type memSecrets map[string][]byte

func (m memSecrets) Get(key string) ([]byte, error) { return m[key], nil }

func (m memSecrets) Set(key string, value []byte) error {
	m[key] = value
	return nil
}

func (m memSecrets) Delete(key string) error {
	delete(m, key)
	return nil
}

func execute(t *testing.T, a *app, stdin string, args ...string) (string, error) {
	t.Helper()
	if a == nil {
		a = &app{opts: &RootOptions{}, secrets: memSecrets{}}
	}
	cmd := newRootCommand(a)
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func tempStore(t *testing.T) string {
	return filepath.Join(t.TempDir(), "siapxml.db")
}

// ─────────────────────────────────────────────────────────────
// Command tree
// ─────────────────────────────────────────────────────────────

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "siapxml", cmd.Use)
	assert.Contains(t, cmd.Long, "SIAP")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"layouts", "check", "schema", "preview", "extract", "show",
		"export", "runs", "schedule", "watch", "mcp", "secret", "worker",
	}
	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "Command %s should exist", name)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}

	w, _, err := cmd.Find([]string{bridge.HostWorkerCommand})
	require.NoError(t, err)
	assert.True(t, w.Hidden)
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	for _, name := range []string{"config", "store", "worker"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestExtractCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	extract, _, err := cmd.Find([]string{"extract"})
	require.NoError(t, err)
	for _, name := range []string{"competencia", "all", "source", "db"} {
		assert.NotNil(t, extract.Flags().Lookup(name), name)
	}
}

// ─────────────────────────────────────────────────────────────
// Commands
// ─────────────────────────────────────────────────────────────

func TestLayouts_Text(t *testing.T) {
	out, err := execute(t, nil, "", "layouts", "--store", tempStore(t))
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "FichaProgramacaoOrcamentaria")
	assert.Equal(t, 8+2, strings.Count(out, "\n"))
}

func TestLayouts_JSON(t *testing.T) {
	out, err := execute(t, nil, "", "layouts", "--format", "json", "--store", tempStore(t))
	require.NoError(t, err)
	var defs []domain.LayoutDefinition
	require.NoError(t, json.Unmarshal([]byte(out), &defs))
	require.Len(t, defs, 8)
	assert.Equal(t, domain.LayoutID("11.1"), defs[0].ID)
}

func TestRuns_Empty(t *testing.T) {
	out, err := execute(t, nil, "", "runs", "--store", tempStore(t))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "RUN"))
}

func TestExitCodes(t *testing.T) {
	store := tempStore(t)
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"bad format", []string{"layouts", "--format", "yaml"}, ExitCommandError},
		{"missing config", []string{"layouts", "--config", filepath.Join(t.TempDir(), "absent.yaml")}, ExitCommandError},
		{"unknown flag", []string{"layouts", "--bogus"}, ExitCommandError},
		{"extract without target", []string{"extract", "--store", store}, ExitCommandError},
		{"check without source", []string{"check", "--store", store}, ExitCommandError},
		{"show unknown layout", []string{"show", "9.9", "--store", store}, ExitCommandError},
		{"show needs layout", []string{"show", "--store", store}, ExitCommandError},
		{"show not extracted", []string{"show", "11.5", "--store", store}, ExitFailure},
		{"export not extracted", []string{
			"export", "11.5", "--store", store, "--out", t.TempDir(),
			"--codigo", "1", "--exercicio", "2024", "--mes", "01",
		}, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, nil, "", tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err), err.Error())
		})
	}
}

func TestSecretSetAndDelete(t *testing.T) {
	secrets := memSecrets{}
	a := &app{opts: &RootOptions{}, secrets: secrets}
	out, err := execute(t, a, "s3cr3t\n", "secret", "set", "cnes", "--store", tempStore(t))
	require.NoError(t, err)
	assert.Contains(t, out, "password for CNES stored")
	assert.Equal(t, "s3cr3t", string(secrets["siapxml.CNES"]))

	a = &app{opts: &RootOptions{}, secrets: secrets}
	_, err = execute(t, a, "", "secret", "delete", "CNES", "--store", tempStore(t))
	require.NoError(t, err)
	assert.Empty(t, secrets)

	_, err = execute(t, nil, "", "secret", "set", "CNES", "--store", tempStore(t))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWorkerCommand_PrintsOneResultLine(t *testing.T) {
	out, err := execute(t, nil, "", "worker", "check", "--dsn", filepath.Join(t.TempDir(), "CNES.GDB"))
	assert.ErrorIs(t, err, worker.ErrFailed)

	res, perr := bridge.ParseResult([]byte(out))
	require.NoError(t, perr)
	assert.False(t, res.Success)
	assert.Equal(t, string(domain.KindPathNotFound), res.Kind)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

func TestMergeHeader(t *testing.T) {
	base := xmlout.Header{Codigo: "123", Exercicio: "2023", Mes: "12"}
	got := mergeHeader(base, xmlout.Header{Mes: "01", Exercicio: "2024"})
	assert.Equal(t, xmlout.Header{Codigo: "123", Exercicio: "2024", Mes: "01"}, got)
}

func TestReadPassword(t *testing.T) {
	pw, err := readPassword(strings.NewReader("masterkey\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "masterkey", pw)

	pw, err = readPassword(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)

	_, err = readPassword(strings.NewReader(""))
	assert.Error(t, err)
}

func TestStoreDSN(t *testing.T) {
	assert.Equal(t, "postgres://u@h/db", storeDSN("postgres://u@h/db"))
	assert.True(t, filepath.IsAbs(storeDSN("data/siapxml.db")))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "", assert.AnError)))
	assert.Equal(t, assert.AnError.Error(), WrapExitError(ExitFailure, "", assert.AnError).Error())
}
