package sqlite

import (
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "sqlite",
			DisplayName: "SQLite",
			Description: "Query a local SQLite database file (read-only)",
			Family:      models.FamilyRelational,
			Aliases:     []string{"sqlite3"},
		},
		Factory: NewAdapter,
	})
}
