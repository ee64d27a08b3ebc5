package etl_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"siapxml/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// Normalization helpers
// ─────────────────────────────────────────────────────────────

func TestCleanNumber(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		width int
		want  string
	}{
		{"float suffix", "12.0", 7, "0000012"},
		{"empty", "", 7, "0000000"},
		{"nil", nil, 7, "0000000"},
		{"float value", float64(12), 7, "0000012"},
		{"int value", int64(2077485), 7, "2077485"},
		{"punctuated cnpj", "12.345.678/0001-90", 14, "12345678000190"},
		{"cep with dash", "70040-010", 8, "70040010"},
		{"longer than width", "123456789", 7, "123456789"},
		{"padded spaces", "  42 ", 4, "0042"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, etl.CleanNumber(tt.in, tt.width))
		})
	}
}

func TestCleanNumber_Idempotent(t *testing.T) {
	for _, v := range []string{"0000012", "12345678901", "000000000000000", "70040010"} {
		once := etl.CleanNumber(v, len(v))
		assert.Equal(t, v, once)
		assert.Equal(t, once, etl.CleanNumber(once, len(v)))
	}
}

func TestIntCode(t *testing.T) {
	assert.Equal(t, "00", etl.IntCode("", 2))
	assert.Equal(t, "00", etl.IntCode(nil, 2))
	assert.Equal(t, "00", etl.IntCode("abc", 2))
	assert.Equal(t, "05", etl.IntCode("05", 2))
	assert.Equal(t, "07", etl.IntCode(7.0, 2))
	assert.Equal(t, "01", etl.IntCode("A1", 2))
	assert.Equal(t, "000040", etl.IntCode("0040", 6))
	assert.Equal(t, "123", etl.IntCode("123", 2))
}

func TestMapFinancing(t *testing.T) {
	assert.Equal(t, "PAB", etl.MapFinancing("1"))
	assert.Equal(t, "MAC", etl.MapFinancing("2"))
	assert.Equal(t, "FAEC", etl.MapFinancing(int64(3)))
	assert.Equal(t, "PAB", etl.MapFinancing("1.0"))
	assert.Equal(t, "9", etl.MapFinancing("9"))
	assert.Equal(t, "", etl.MapFinancing(nil))
}

func TestTotalWorkload(t *testing.T) {
	assert.Equal(t, "15", etl.TotalWorkload(2, 10, 5, nil))
	assert.Equal(t, "12", etl.TotalWorkload(2, "8", "4", "x"))
	assert.Equal(t, "00", etl.TotalWorkload(2, nil, nil, nil))
	assert.Equal(t, "40", etl.TotalWorkload(2, 20.0, 20.9, nil))
}

func TestNormalizeDate(t *testing.T) {
	day := time.Date(2024, 5, 30, 14, 12, 0, 0, time.UTC)
	assert.Equal(t, "2024-05-30", etl.NormalizeDate(day))
	assert.Equal(t, "2024-05-30", etl.NormalizeDate("2024-05-30 10:00:00"))
	assert.Equal(t, "2024-05-30", etl.NormalizeDate("30/05/2024"))
	assert.Equal(t, "2024-05-30", etl.NormalizeDate("20240530"))
	assert.Equal(t, "2024-05-30", etl.NormalizeDate("2024-05-30 10:00"))
	assert.Equal(t, "2024-05-30", etl.NormalizeDate("30/05/2024 10:00:00"))
	assert.Equal(t, "2024-05-30", etl.NormalizeDate("2024-05-30T10:00"))
	assert.Equal(t, "garbage", etl.NormalizeDate("garbage"))
	assert.Equal(t, "garbage 10:00", etl.NormalizeDate("garbage 10:00"))
	assert.Equal(t, "", etl.NormalizeDate(nil))
	assert.Equal(t, "", etl.NormalizeDate("  "))
	assert.Equal(t, "", etl.NormalizeDate(time.Time{}))
}

func TestRoundMoney(t *testing.T) {
	assert.Equal(t, 10.13, etl.RoundMoney("10.126"))
	assert.Equal(t, 12.5, etl.RoundMoney("12,5"))
	assert.Equal(t, float64(12), etl.RoundMoney(int64(12)))
	assert.Equal(t, float64(0), etl.RoundMoney("abc"))
	assert.Equal(t, float64(0), etl.RoundMoney(nil))
}
