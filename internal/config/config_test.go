package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siapxml/internal/domain"
	"siapxml/internal/secret"
)

const sample = `
sources:
  CNES:
    path: 'C:\CNES\CNES.GDB'
  SIH:
    path: 192.168.0.10:C:/SIH/SIH.GDB
    user: OPERADOR
    password: sihpass
store:
  dsn: postgres://siap@localhost/siap
header:
  codigo: "123456"
  exercicio: "2024"
  mes: "03"
worker:
  timeout: 2m
log:
  level: debug
  format: json
schedules:
  - layout: "11.5"
    cron: "0 6 1 * *"
    export: true
watch:
  layouts: ["11.1"]
`

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siapxml.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(write(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "postgres://siap@localhost/siap", cfg.Store.DSN)
	assert.Equal(t, 2*time.Minute, cfg.Worker.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "123456", cfg.Header.Codigo)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, domain.LayoutID("11.5"), cfg.Schedules[0].Layout)
	assert.True(t, cfg.Schedules[0].Export)
	assert.Equal(t, []domain.LayoutID{"11.1"}, cfg.Watch.Layouts)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "xml", cfg.OutputDir)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Worker.Timeout)
	assert.Equal(t, filepath.Join("data", "siapxml.db"), cfg.Store.DSN)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SIAPXML_STORE_DSN", "mongodb://localhost/siap")
	cfg, err := Load(write(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "mongodb://localhost/siap", cfg.Store.DSN)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(write(t, "sources:\n  XYZ:\n    path: a.gdb\n"))
	assert.ErrorContains(t, err, "unknown source")

	_, err = Load(write(t, "schedules:\n  - layout: \"11.5\"\n"))
	assert.ErrorContains(t, err, "cron")

	_, err = Load(write(t, "store: [\n"))
	assert.Error(t, err)
}

type fixedSecrets map[string]string

func (f fixedSecrets) Get(key string) ([]byte, error) { return []byte(f[key]), nil }
func (f fixedSecrets) Set(string, []byte) error       { return nil }
func (f fixedSecrets) Delete(string) error            { return nil }

func TestConnection(t *testing.T) {
	cfg, err := Load(write(t, sample))
	require.NoError(t, err)
	secrets := fixedSecrets{secret.PasswordKey("CNES"): "fromstore"}

	cnes, err := cfg.Connection(domain.SourceCNES, secrets)
	require.NoError(t, err)
	assert.Equal(t, `C:\CNES\CNES.GDB`, cnes.Path)
	assert.Equal(t, "fromstore", cnes.Password)
	assert.Equal(t, domain.DefaultUser, cnes.User)

	sih, err := cfg.Connection(domain.SourceSIH, secrets)
	require.NoError(t, err)
	assert.Equal(t, "sihpass", sih.Password)
	assert.Equal(t, "OPERADOR", sih.User)

	_, err = cfg.Connection(domain.SourceFPO, secrets)
	assert.Error(t, err)
}
