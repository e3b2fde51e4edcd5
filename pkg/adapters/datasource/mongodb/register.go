package mongodb

import (
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "mongodb",
			DisplayName: "MongoDB",
			Description: "Connect to MongoDB 5+ and MongoDB Atlas",
			Family:      models.FamilyDocument,
			Aliases:     []string{"mongo", "atlas"},
		},
		Factory: NewAdapter,
	})
}
