package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/data-cleansing/pkg/config"
	"github.com/David-Botos/data-cleansing/pkg/converter"
)

func TestBuildInsertPostgres(t *testing.T) {
	query, args, err := buildInsert(converter.DialectPostgres, "dev", "customers_gold",
		[]string{"customer_id", "email"},
		[][]interface{}{{"C1", "a@x.com"}, {"C2", nil}})
	require.NoError(t, err)

	assert.Equal(t, `INSERT INTO "dev"."customers_gold" ("customer_id", "email") VALUES ($1, $2), ($3, $4)`, query)
	assert.Equal(t, []interface{}{"C1", "a@x.com", "C2", nil}, args)
}

func TestBuildInsertSnowflake(t *testing.T) {
	query, _, err := buildInsert(converter.DialectSnowflake, "", "t", []string{"a"}, [][]interface{}{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "t" ("a") VALUES (?), (?)`, query)
}

func TestBuildInsertRejectsRaggedRows(t *testing.T) {
	_, _, err := buildInsert(converter.DialectPostgres, "s", "t", []string{"a", "b"}, [][]interface{}{{1}})
	assert.Error(t, err)
}

func TestCreateTableSQL(t *testing.T) {
	sql := createTableSQL("dev", "customers_raw", []string{`"customer_id" TEXT NOT NULL`, `"email" TEXT NULL`}, `"customer_id"`)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS \"dev\".\"customers_raw\" (\n\t\"customer_id\" TEXT NOT NULL,\n\t\"email\" TEXT NULL,\n\tPRIMARY KEY (\"customer_id\")\n)", sql)
}

func TestBuildInsertNumbersPlaceholdersAcrossRows(t *testing.T) {
	query, args, err := buildInsert(converter.DialectPostgres, "", "t", []string{"a", "b", "c"},
		[][]interface{}{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "t" ("a", "b", "c") VALUES ($1, $2, $3), ($4, $5, $6)`, query)
	assert.Len(t, args, 6)
}

func TestCreateTableSQLWithoutPrimaryKey(t *testing.T) {
	defs := []string{`"a" TEXT`}
	sql := createTableSQL("", "t", defs, "")
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS \"t\" (\n\t\"a\" TEXT\n)", sql)
	assert.Len(t, defs, 1)
}

func TestApplyPool(t *testing.T) {
	db, err := OpenPostgres("host=127.0.0.1 port=1 user=x dbname=x sslmode=disable")
	require.NoError(t, err)
	defer db.Close()

	applyPool(db, config.PoolConfig{MaxOpenConns: 7})
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, `"dev"."customers"`, QualifiedName("dev", "customers"))
	assert.Equal(t, `"customers"`, QualifiedName("", "customers"))
}

func TestColumnsQueryPlaceholders(t *testing.T) {
	assert.Contains(t, columnsQuery(converter.DialectPostgres), "COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2")
	assert.Contains(t, columnsQuery(converter.DialectSnowflake), "COALESCE(NULLIF(?, ''), CURRENT_SCHEMA()) AND table_name = ?")
}

func TestColumnType(t *testing.T) {
	assert.Equal(t, "NUMBER(38,0)", columnType("NUMBER", 0))
	assert.Equal(t, "NUMBER", columnType("NUMBER", 2))
	assert.Equal(t, "bigint", columnType("bigint", 0))
	assert.Equal(t, "text", columnType("text", -1))
}
