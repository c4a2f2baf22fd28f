package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/migrations/*.sql sql/seeds/*.sql
var bundled embed.FS

// Migrations returns the schema migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(bundled, "sql/migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the default seed data compiled into the binary.
func Seeds() fs.FS {
	sub, err := fs.Sub(bundled, "sql/seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
