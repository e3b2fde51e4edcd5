package cassandra

import (
	"sort"
	"time"

	"github.com/gocql/gocql"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// SchemaFromKeyspace converts keyspace metadata into a schema. Tables are
// sorted by name; fields list the partition key, then clustering columns,
// then the remaining columns by name.
func SchemaFromKeyspace(ks *gocql.KeyspaceMetadata, connectionID string, now time.Time) *models.SchemaModel {
	schema := &models.SchemaModel{
		ConnectionID:   connectionID,
		Family:         models.FamilyWideColumn,
		IntrospectedAt: now.UTC(),
	}
	names := make([]string, 0, len(ks.Tables))
	for name := range ks.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		schema.Entities = append(schema.Entities, EntityFromTable(ks.Tables[name]))
	}
	return schema
}

// EntityFromTable describes one table.
func EntityFromTable(t *gocql.TableMetadata) models.EntityDescriptor {
	entity := models.EntityDescriptor{Name: t.Name, Kind: models.EntityTable, FieldsKnown: true}
	seen := make(map[string]bool)
	add := func(col *gocql.ColumnMetadata, key bool) {
		if col == nil || seen[col.Name] {
			return
		}
		seen[col.Name] = true
		entity.Fields = append(entity.Fields, models.FieldDescriptor{
			Name:       col.Name,
			Type:       mapType(col.Type),
			NativeType: nativeType(col),
			Nullable:   !key,
			IsKey:      key,
		})
	}
	for _, col := range t.PartitionKey {
		entity.PartitionKey = append(entity.PartitionKey, col.Name)
		add(col, true)
	}
	for _, col := range t.ClusteringColumns {
		entity.ClusteringKey = append(entity.ClusteringKey, col.Name)
		add(col, true)
	}
	rest := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(t.Columns[name], false)
	}
	return entity
}

func nativeType(col *gocql.ColumnMetadata) string {
	if col.Type != nil {
		return col.Type.Type().String()
	}
	return col.Validator
}

// mapType maps a CQL type onto the shared field type vocabulary.
func mapType(ti gocql.TypeInfo) string {
	if ti == nil {
		return models.TypeUnknown
	}
	switch ti.Type() {
	case gocql.TypeAscii, gocql.TypeText, gocql.TypeVarchar, gocql.TypeInet:
		return models.TypeString
	case gocql.TypeInt, gocql.TypeBigInt, gocql.TypeSmallInt, gocql.TypeTinyInt, gocql.TypeCounter, gocql.TypeVarint:
		return models.TypeInteger
	case gocql.TypeFloat, gocql.TypeDouble:
		return models.TypeNumber
	case gocql.TypeDecimal:
		return models.TypeDecimal
	case gocql.TypeBoolean:
		return models.TypeBoolean
	case gocql.TypeTimestamp:
		return models.TypeTimestamp
	case gocql.TypeDate:
		return models.TypeDate
	case gocql.TypeUUID, gocql.TypeTimeUUID:
		return models.TypeUUID
	case gocql.TypeBlob:
		return models.TypeBinary
	case gocql.TypeList, gocql.TypeSet, gocql.TypeTuple:
		return models.TypeArray
	case gocql.TypeMap, gocql.TypeUDT:
		return models.TypeObject
	case gocql.TypeTime, gocql.TypeDuration:
		return models.TypeString
	}
	return models.TypeUnknown
}
