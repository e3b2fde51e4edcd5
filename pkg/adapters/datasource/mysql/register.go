package mysql

import (
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "mysql",
			DisplayName: "MySQL",
			Description: "Connect to MySQL 8+, MariaDB, PlanetScale",
			Family:      models.FamilyRelational,
			Aliases:     []string{"mariadb", "planetscale"},
		},
		Factory: NewAdapter,
	})
}
