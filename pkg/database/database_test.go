package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrations "github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/db"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/database"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func openSQLite(t *testing.T) database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(context.Background(), `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL, meta TEXT)`)
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, db database.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.GetContext(context.Background(), &n, `SELECT COUNT(*) FROM items`))
	return n
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  database.Config
		want string
	}{
		{
			name: "postgres",
			cfg:  database.Config{Driver: database.DriverPostgres, Host: "db", Port: "5432", UserName: "recon", Password: "p@ss", Name: "ledger", SSLMode: "disable"},
			want: "postgres://recon:p%40ss@db:5432/ledger?sslmode=disable",
		},
		{
			name: "sqlite file",
			cfg:  database.Config{Driver: database.DriverSQLite, Path: "/tmp/state.db"},
			want: "file:/tmp/state.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		},
		{
			name: "sqlite memory",
			cfg:  database.Config{Driver: database.DriverSQLite, Path: ":memory:"},
			want: "file::memory:?cache=shared&_pragma=foreign_keys(1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestFlavorFor(t *testing.T) {
	assert.Equal(t, sqlbuilder.SQLite, database.FlavorFor(database.DriverSQLite))
	assert.Equal(t, sqlbuilder.PostgreSQL, database.FlavorFor(database.DriverPostgres))
}

func TestChunks(t *testing.T) {
	assert.Nil(t, database.Chunks(0, 500))
	assert.Equal(t, [][2]int{{0, 3}}, database.Chunks(3, 500))
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, database.Chunks(5, 2))
}

func TestInsertBuilder_OnConflictUpdate(t *testing.T) {
	ib := database.NewInsertBuilder(sqlbuilder.PostgreSQL)
	ib.InsertInto("reconciliation_runs")
	ib.Cols("run_id", "stage")
	ib.Values("r1", "Done")
	ib.OnConflictUpdate([]string{"run_id"}, "stage")

	query, args := ib.Build()
	assert.Equal(t, "INSERT INTO reconciliation_runs (run_id, stage) VALUES ($1, $2) ON CONFLICT (run_id) DO UPDATE SET stage = EXCLUDED.stage", query)
	assert.Equal(t, []any{"r1", "Done"}, args)
}

func TestInsertBuilder_Upsert(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	for _, name := range []string{"first", "second"} {
		ib := database.NewInsertBuilder(db.Flavor())
		ib.InsertInto("items")
		ib.Cols("id", "name")
		ib.Values(1, name)
		ib.OnConflictUpdate([]string{"id"}, "name")
		query, args := ib.Build()
		_, err := db.ExecContext(ctx, query, args...)
		require.NoError(t, err)
	}

	var name string
	require.NoError(t, db.GetContext(ctx, &name, `SELECT name FROM items WHERE id = 1`))
	assert.Equal(t, "second", name)
	assert.Equal(t, 1, countItems(t, db))
}

func TestJSONB(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	meta := database.NewJSONB(map[string]string{"PolicyNo": "P100"})
	_, err := db.ExecContext(ctx, `INSERT INTO items (id, name, meta) VALUES (1, 'a', ?)`, meta)
	require.NoError(t, err)

	var got database.JSONB[map[string]string]
	require.NoError(t, db.GetContext(ctx, &got, `SELECT meta FROM items WHERE id = 1`))
	assert.Equal(t, map[string]string{"PolicyNo": "P100"}, got.GetValue())

	var empty database.JSONB[[]string]
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty.GetValue())
	require.NoError(t, empty.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, []string{"a", "b"}, empty.GetValue())
	assert.Error(t, empty.Scan(42))
}

func TestGetTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	txCtx, tx, err := db.GetTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(txCtx, `INSERT INTO items (id, name) VALUES (1, 'kept')`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(txCtx))
	assert.False(t, tx.IsOpen())
	// rollback after commit is a no-op
	require.NoError(t, tx.Rollback(txCtx))

	txCtx, tx, err = db.GetTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(txCtx, `INSERT INTO items (id, name) VALUES (2, 'dropped')`)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(txCtx))

	assert.Equal(t, 1, countItems(t, db))
}

func TestGetTx_BorrowedHandle(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	outerCtx, outer, err := db.GetTx(ctx, nil)
	require.NoError(t, err)

	innerCtx, inner, err := db.GetTx(outerCtx, nil)
	require.NoError(t, err)
	_, err = inner.ExecContext(innerCtx, `INSERT INTO items (id, name) VALUES (1, 'nested')`)
	require.NoError(t, err)

	// the borrowed handle neither commits nor ends the outer transaction
	require.NoError(t, inner.Commit(innerCtx))
	require.NoError(t, inner.Rollback(innerCtx))
	assert.True(t, outer.IsOpen())

	require.NoError(t, outer.Rollback(outerCtx))
	assert.Equal(t, 0, countItems(t, db))
}

func TestLatestVersion(t *testing.T) {
	version, err := database.LatestVersion(migrations.Postgres())
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	version, err = database.LatestVersion(migrations.For(database.DriverSQLite))
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestMigrationService_SQLite(t *testing.T) {
	db, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "migrate.db"),
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ms := database.NewMigrationService(testLogger(), &database.MigrationConfig{Migrations: migrations.SQLite()})
	require.NoError(t, ms.MigrateDB(db))
	require.NoError(t, ms.MigrateDB(db))

	var tables int
	require.NoError(t, db.GetContext(context.Background(), &tables,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('reconciliation_runs', 'ledger_records', 'record_links', 'pass_history')`))
	assert.Equal(t, 4, tables)
}

func TestMigrationService_NoMigrations(t *testing.T) {
	ms := database.NewMigrationService(testLogger(), &database.MigrationConfig{})
	assert.Error(t, ms.Migrate(database.DriverSQLite, nil))
}
