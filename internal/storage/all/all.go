// Package all registers every storage backend and the SQL Server driver.
// Commands blank-import it.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "scrape/internal/storage/file"
	_ "scrape/internal/storage/mssql"
	_ "scrape/internal/storage/postgres"
	_ "scrape/internal/storage/sqlite"
)
