package chidb

import (
	"math/rand"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	f, err := os.CreateTemp(os.TempDir(), t.Name())
	require.NoError(t, err)
	db, err := Open(f.Name())
	require.NoError(t, err)
	return db
}

func execAll(t *testing.T, db *DB, sql string) {
	stmt, err := db.Prepare(sql)
	require.NoError(t, err)
	for {
		code, err := stmt.Step()
		require.NoError(t, err)
		if code == CodeDone {
			break
		}
	}
	require.NoError(t, stmt.Finalize())
}

func collectRows(t *testing.T, db *DB, sql string) [][]Register {
	stmt, err := db.Prepare(sql)
	require.NoError(t, err)
	defer stmt.Finalize()

	var rows [][]Register
	for {
		code, err := stmt.Step()
		require.NoError(t, err)
		if code == CodeDone {
			break
		}
		row := make([]Register, stmt.ColumnCount())
		for i := range row {
			row[i] = Register{Type: stmt.ColumnType(i), Int: stmt.ColumnInt(i), Text: stmt.ColumnText(i)}
		}
		rows = append(rows, row)
	}
	return rows
}

func TestEndToEndCreateInsertSelectStar(t *testing.T) {
	db := openTestDB(t)

	execAll(t, db, `CREATE TABLE t (a INT, b TEXT)`)
	execAll(t, db, `INSERT INTO t VALUES (1, 'x')`)

	rows := collectRows(t, db, `SELECT * FROM t`)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(1), rows[0][0].Int)
	assert.Equal(t, "x", rows[0][1].Text)
}

func TestEndToEndWhereGreaterThan(t *testing.T) {
	db := openTestDB(t)

	execAll(t, db, `CREATE TABLE t (a INT, b INT)`)
	execAll(t, db, `INSERT INTO t VALUES (1, 10)`)
	execAll(t, db, `INSERT INTO t VALUES (2, 20)`)
	execAll(t, db, `INSERT INTO t VALUES (3, 30)`)

	rows := collectRows(t, db, `SELECT a FROM t WHERE b > 15`)
	require.Len(t, rows, 2)
	assert.Equal(t, int32(2), rows[0][0].Int)
	assert.Equal(t, int32(3), rows[1][0].Int)
}

func TestEndToEndPrimaryKeySeekModes(t *testing.T) {
	db := openTestDB(t)

	execAll(t, db, `CREATE TABLE t (a INT, b INT)`)
	execAll(t, db, `INSERT INTO t VALUES (1, 10)`)
	execAll(t, db, `INSERT INTO t VALUES (2, 20)`)
	execAll(t, db, `INSERT INTO t VALUES (3, 30)`)

	eq := collectRows(t, db, `SELECT b FROM t WHERE a = 2`)
	require.Len(t, eq, 1)
	assert.Equal(t, int32(20), eq[0][0].Int)

	ge := collectRows(t, db, `SELECT b FROM t WHERE a >= 2`)
	require.Len(t, ge, 2)
	assert.Equal(t, int32(20), ge[0][0].Int)
	assert.Equal(t, int32(30), ge[1][0].Int)

	le := collectRows(t, db, `SELECT b FROM t WHERE a <= 2`)
	require.Len(t, le, 2)
	assert.Equal(t, int32(20), le[0][0].Int)
	assert.Equal(t, int32(10), le[1][0].Int)
}

func TestEndToEndBulkInsertExceedsSingleLevel(t *testing.T) {
	db := openTestDB(t)
	execAll(t, db, `CREATE TABLE t (a INT, b TEXT)`)

	rng := rand.New(rand.NewSource(1))
	seen := map[int32]bool{}
	keys := make([]int32, 0, 2000)
	for len(keys) < 2000 {
		k := rng.Int31()
		if k <= 0 || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
		require.NoError(t, db.bt.Insert(2, NewTableLeafCell(uint32(k), mustPack(t, TextValue("v")))))
	}

	root, err := db.bt.GetNodeByPage(2)
	require.NoError(t, err)
	assert.False(t, root.IsLeaf(), "bulk insert should have produced an internal root")

	want := append([]int32{}, keys...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	cur, err := NewCursor(db.bt, 2)
	require.NoError(t, err)
	require.NoError(t, cur.Rewind())
	var got []int32
	got = append(got, int32(cur.Current().Key()))
	for {
		if err := cur.Next(); err != nil {
			break
		}
		got = append(got, int32(cur.Current().Key()))
	}
	assert.Equal(t, want, got)
}

func mustPack(t *testing.T, vs ...Value) []byte {
	all := append([]Value{NullValue()}, vs...)
	b, err := Pack(all)
	require.NoError(t, err)
	return b
}

func TestEndToEndDuplicateInsertFails(t *testing.T) {
	db := openTestDB(t)
	execAll(t, db, `CREATE TABLE t (a INT, b TEXT)`)
	execAll(t, db, `INSERT INTO t VALUES (1, 'x')`)

	stmt, err := db.Prepare(`INSERT INTO t VALUES (1, 'y')`)
	require.NoError(t, err)
	defer stmt.Finalize()

	_, err = stmt.Step()
	assert.Equal(t, ErrDuplicate, err)
}

func TestEndToEndUnknownColumnIsInvalidSQL(t *testing.T) {
	db := openTestDB(t)
	execAll(t, db, `CREATE TABLE t (a INT, b TEXT)`)

	_, err := db.Prepare(`SELECT * FROM t WHERE c = 1`)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidSQL, CodeOf(err))
}
