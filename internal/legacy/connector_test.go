package legacy

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQuery_DecodesAndTrims(t *testing.T) {
	db := openMemory(t)
	_, err := db.Exec(`CREATE TABLE LFCES004 (CNES TEXT, NOME BLOB, QT INTEGER)`)
	require.NoError(t, err)
	// "SÃO" in WIN1252 bytes, with CHAR padding.
	_, err = db.Exec(`INSERT INTO LFCES004 VALUES ('2077485  ', ?, 3)`, []byte{'S', 0xC3, 'O', ' ', ' '})
	require.NoError(t, err)

	conn := newConnection(db, StrategyNetwork, "WIN1252")
	raw, err := conn.Query(context.Background(), "SELECT CNES, NOME, QT FROM LFCES004")
	require.NoError(t, err)

	assert.Equal(t, []string{"CNES", "NOME", "QT"}, raw.Columns)
	require.Len(t, raw.Rows, 1)
	assert.Equal(t, "2077485", raw.Rows[0][0])
	assert.Equal(t, "SÃO", raw.Rows[0][1])
	assert.Equal(t, int64(3), raw.Rows[0][2])
}

func TestPreview_RejectsBadIdentifier(t *testing.T) {
	conn := newConnection(openMemory(t), StrategyLocal, "")
	for _, bad := range []string{"", "LFCES004; DROP TABLE X", "1ABC", "A B"} {
		_, err := conn.Preview(context.Background(), bad, 10)
		assert.Error(t, err, bad)
	}
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("S_IPU"))
	assert.True(t, ValidIdentifier("RDB$RELATIONS"))
	assert.False(t, ValidIdentifier("S_IPU--"))
}

func TestSchemaInfo_Map(t *testing.T) {
	info := &SchemaInfo{Tables: []TableInfo{{Name: "T1", Columns: []string{"A", "B"}}}}
	assert.Equal(t, map[string][]string{"T1": {"A", "B"}}, info.Map())
}
