package postgres

import (
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase, Neon",
			Family:      models.FamilyRelational,
			Aliases:     []string{"postgresql", "supabase", "neondb", "neon"},
		},
		Factory: NewAdapter,
	})
}
