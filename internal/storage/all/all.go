// Package all links every storage backend and the SQL Server driver. Import
// it for side effects from main packages.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "nutrimerge/internal/storage/mssql"
	_ "nutrimerge/internal/storage/postgres"
	_ "nutrimerge/internal/storage/sqlite"
)
