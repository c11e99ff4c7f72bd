// Package db embeds the SQL migrations of the relational state stores
package db

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// Postgres returns the postgres migrations
func Postgres() fs.FS {
	return sub(postgresFS, "postgres")
}

// SQLite returns the sqlite migrations
func SQLite() fs.FS {
	return sub(sqliteFS, "sqlite")
}

// For returns the migrations of a driver name
func For(driverName string) fs.FS {
	if driverName == "sqlite" {
		return SQLite()
	}
	return Postgres()
}

func sub(fsys embed.FS, dir string) fs.FS {
	s, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return s
}
