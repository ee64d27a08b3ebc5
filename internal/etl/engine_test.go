package etl_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siapxml/internal/domain"
	"siapxml/internal/etl"
	"siapxml/internal/layout"
)

// fakeQuerier returns a canned result set and records the last query.
type fakeQuerier struct {
	result *domain.RawResultSet
	err    error
	query  string
}

func (f *fakeQuerier) Query(_ context.Context, q string) (*domain.RawResultSet, error) {
	f.query = q
	return f.result, f.err
}

// rawFor fabricates a result set shaped like the legacy store's answer to
// the layout's query: uppercase aliases, one value per mapped column.
func rawFor(def *domain.LayoutDefinition, rows int, value any) *domain.RawResultSet {
	raw := &domain.RawResultSet{}
	for _, c := range def.Columns {
		raw.Columns = append(raw.Columns, strings.ToUpper(c.Target))
	}
	for i := 0; i < rows; i++ {
		row := make([]any, len(raw.Columns))
		for j := range row {
			row[j] = value
		}
		raw.Rows = append(raw.Rows, row)
	}
	return raw
}

func mustRegistry(t *testing.T) *layout.Registry {
	t.Helper()
	reg, err := layout.Default()
	require.NoError(t, err)
	return reg
}

// ─────────────────────────────────────────────────────────────
// Field set invariant
// ─────────────────────────────────────────────────────────────

func TestExtract_FieldSetMatchesFieldOrder(t *testing.T) {
	reg := mustRegistry(t)
	require.Len(t, reg.All(), 8)

	for _, def := range reg.All() {
		t.Run(string(def.ID), func(t *testing.T) {
			for _, value := range []any{"1", nil, int64(7), "2024-01-31"} {
				q := &fakeQuerier{result: rawFor(def, 3, value)}
				eng := &etl.Engine{Source: q}

				set, err := eng.Extract(context.Background(), def, map[string]string{"competencia": "202401"})
				require.NoError(t, err)
				require.Equal(t, 3, set.Len())
				assert.Equal(t, def.FieldOrder(), set.Fields)

				want := append([]string(nil), def.FieldOrder()...)
				sort.Strings(want)
				for _, rec := range set.Records {
					var got []string
					for k := range rec {
						got = append(got, k)
					}
					sort.Strings(got)
					assert.Equal(t, want, got)
				}
			}
		})
	}
}

// ─────────────────────────────────────────────────────────────
// Per-layout rules
// ─────────────────────────────────────────────────────────────

func TestExtract_Facility(t *testing.T) {
	def, err := mustRegistry(t).Get("11.1")
	require.NoError(t, err)

	raw := &domain.RawResultSet{
		Columns: []string{"CNES", "CNPJ", "NOMEFANTASIA", "RAZAOSOCIAL", "ENDERECO", "CEP",
			"CPFDIRETOR", "TIPOESTABELECIMENTOSAUDE", "ATIVIDADEPRINCIPAL", "SISTEMASSUS"},
		Rows: [][]any{{
			"2077485", "12.345.678/0001-90", "UBS CENTRO   ", "PREFEITURA", "RUA A", "70040-010",
			"123.456.789-01", "02", nil, nil,
		}},
	}
	set, err := etl.Normalize(def, raw)
	require.NoError(t, err)
	rec := set.Records[0]

	assert.Equal(t, "2077485", rec["CNES"])
	assert.Equal(t, "12345678000190", rec["CNPJ"])
	assert.Equal(t, "UBS CENTRO", rec["NomeFantasia"])
	assert.Equal(t, "70040010", rec["CEP"])
	assert.Equal(t, "12345678901", rec["CPFDiretor"])
	assert.Equal(t, "00", rec["AtividadePrincipal"])
	assert.Equal(t, "1", rec["SistemasSUS"])
}

func TestExtract_ProfessionalWorkload(t *testing.T) {
	def, err := mustRegistry(t).Get("11.2")
	require.NoError(t, err)

	raw := &domain.RawResultSet{
		Columns: []string{"CNS", "CPF", "CNES", "MATRICULA", "VINCULO", "OCUPACAO",
			"CARGAHORARIAAMBULATORIO", "CARGAHORARIAHOSPITAL", "CARGAHORARIAOUTROS"},
		Rows: [][]any{{"700000000000001", "12345678901", "2077485", "M-1", "10101", "225125", int64(10), int64(5), nil}},
	}
	set, err := etl.Normalize(def, raw)
	require.NoError(t, err)
	rec := set.Records[0]

	assert.Equal(t, "15", rec["CargaHorariaTotal"])
	assert.Equal(t, "10", rec["CargaHorariaAmbulatorio"])
	assert.Equal(t, "05", rec["CargaHorariaHospital"])
	assert.Equal(t, "010101", rec["Vinculo"])
	assert.Equal(t, "0225125", rec["Ocupacao"])
	assert.NotContains(t, rec, "CargaHorariaOutros")
}

func TestExtract_Budget(t *testing.T) {
	def, err := mustRegistry(t).Get("11.5")
	require.NoError(t, err)

	raw := &domain.RawResultSet{
		Columns: []string{"cnes", "procedimento", "financiamento", "quantidade", "valorunitario", "valortotal"},
		Rows: [][]any{
			{"2077485", "0301010072", "2", "12.0", "10.126", float64(121.5)},
			{"2077485", "301010072", int64(9), nil, nil, "abc"},
		},
	}
	set, err := etl.Normalize(def, raw)
	require.NoError(t, err)

	first, second := set.Records[0], set.Records[1]
	assert.Equal(t, "MAC", first["Financiamento"])
	assert.Equal(t, int64(12), first["Quantidade"])
	assert.Equal(t, 10.13, first["ValorUnitario"])
	assert.Equal(t, 121.5, first["ValorTotal"])
	assert.Equal(t, "0301010072", second["Procedimento"])
	assert.Equal(t, "9", second["Financiamento"])
	assert.Equal(t, int64(0), second["Quantidade"])
	assert.Equal(t, float64(0), second["ValorTotal"])
}

func TestExtract_HospitalAuthorization(t *testing.T) {
	def, err := mustRegistry(t).Get("11.8")
	require.NoError(t, err)

	raw := rawFor(def, 1, nil)
	set, err := etl.Normalize(def, raw)
	require.NoError(t, err)
	rec := set.Records[0]

	assert.Equal(t, "0000000000000", rec["AIHAnterior"])
	assert.Equal(t, "", rec["CNSPaciente"])
	assert.Equal(t, "", rec["DataSaida"])
	assert.Equal(t, "", rec["EspecialidadeLeito"])
}

// ─────────────────────────────────────────────────────────────
// Failure semantics
// ─────────────────────────────────────────────────────────────

func TestExtract_QueryFailureAborts(t *testing.T) {
	def, err := mustRegistry(t).Get("11.3")
	require.NoError(t, err)

	q := &fakeQuerier{err: errors.New("Dynamic SQL Error")}
	set, err := (&etl.Engine{Source: q}).Extract(context.Background(), def, nil)
	require.Error(t, err)
	assert.Nil(t, set)
	assert.ErrorIs(t, err, domain.ErrExtraction)
}

func TestExtract_MissingColumnAborts(t *testing.T) {
	def, err := mustRegistry(t).Get("11.3")
	require.NoError(t, err)

	raw := rawFor(def, 2, "1")
	raw.Columns = raw.Columns[:len(raw.Columns)-1]
	for i := range raw.Rows {
		raw.Rows[i] = raw.Rows[i][:len(raw.Columns)]
	}
	_, err = etl.Normalize(def, raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QuantidadeSUS")
}

func TestExtract_RowWidthMismatch(t *testing.T) {
	def, err := mustRegistry(t).Get("11.3")
	require.NoError(t, err)

	raw := rawFor(def, 1, "1")
	raw.Rows[0] = raw.Rows[0][:2]
	_, err = etl.Normalize(def, raw)
	assert.ErrorIs(t, err, domain.ErrExtraction)
}

func TestExtract_EmptyResult(t *testing.T) {
	def, err := mustRegistry(t).Get("11.4")
	require.NoError(t, err)

	set, err := etl.Normalize(def, rawFor(def, 0, nil))
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, def.FieldOrder(), set.Fields)
}
