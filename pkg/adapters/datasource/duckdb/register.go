package duckdb

import (
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "duckdb",
			DisplayName: "DuckDB",
			Description: "Query a local DuckDB database file (read-only)",
			Family:      models.FamilyRelational,
		},
		Factory: NewAdapter,
	})
}
