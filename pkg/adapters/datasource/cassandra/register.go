package cassandra

import (
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "cassandra",
			DisplayName: "Apache Cassandra",
			Description: "Query Cassandra 3.11+ and ScyllaDB tables by partition key",
			Family:      models.FamilyWideColumn,
			Aliases:     []string{"scylla", "scylladb", "cql"},
		},
		Factory: NewAdapter,
	})
}
