package redis

import (
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "redis",
			DisplayName: "Redis",
			Description: "Read hashes and strings from Redis 6+ by key prefix",
			Family:      models.FamilyKeyValue,
			Aliases:     []string{"valkey"},
		},
		Factory: NewAdapter,
	})
}
