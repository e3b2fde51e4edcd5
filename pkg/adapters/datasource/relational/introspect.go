package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Introspect reads the catalog of db into a schema model. Constraint
// relationships come from the dialect's foreign key query; naming
// relationships are added afterwards for fields no constraint covers.
func Introspect(ctx context.Context, db *sql.DB, d Dialect, connectionID string, now time.Time) (*models.SchemaModel, error) {
	schema := &models.SchemaModel{
		ConnectionID:   connectionID,
		Family:         models.FamilyRelational,
		IntrospectedAt: now.UTC(),
	}
	if err := readColumns(ctx, db, d, schema); err != nil {
		return nil, err
	}
	if d.Catalog.ForeignKeys != "" {
		if err := readForeignKeys(ctx, db, d, schema); err != nil {
			return nil, err
		}
	}
	datasource.AddNamingRelationships(schema)

	if err := schema.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, apperrors.StageIntrospect, err, "catalog produced an invalid schema")
	}
	return schema, nil
}

func readColumns(ctx context.Context, db *sql.DB, d Dialect, schema *models.SchemaModel) error {
	rows, err := db.QueryContext(ctx, d.Catalog.Columns)
	if err != nil {
		return datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, d.Classify)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var table, column, dataType, nullable string
		var isKey int64
		if err := rows.Scan(&table, &column, &dataType, &nullable, &isKey); err != nil {
			return datasource.ClassifyError(ctx, fmt.Errorf("scan column row: %w", err), apperrors.StageIntrospect, d.Classify)
		}
		i, ok := index[table]
		if !ok {
			i = len(schema.Entities)
			index[table] = i
			schema.Entities = append(schema.Entities, models.EntityDescriptor{
				Name:        table,
				Kind:        models.EntityTable,
				FieldsKnown: true,
			})
		}
		schema.Entities[i].Fields = append(schema.Entities[i].Fields, models.FieldDescriptor{
			Name:       column,
			Type:       d.mapType(dataType),
			NativeType: dataType,
			Nullable:   strings.EqualFold(strings.TrimSpace(nullable), "YES"),
			IsKey:      isKey != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, d.Classify)
	}
	return nil
}

func readForeignKeys(ctx context.Context, db *sql.DB, d Dialect, schema *models.SchemaModel) error {
	rows, err := db.QueryContext(ctx, d.Catalog.ForeignKeys)
	if err != nil {
		return datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, d.Classify)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var h models.RelationshipHint
		if err := rows.Scan(&h.FromEntity, &h.FromField, &h.ToEntity, &h.ToField); err != nil {
			return datasource.ClassifyError(ctx, fmt.Errorf("scan foreign key row: %w", err), apperrors.StageIntrospect, d.Classify)
		}
		// Constraints into tables outside the introspected schema are dropped.
		if !hasField(schema, h.FromEntity, h.FromField) || !hasField(schema, h.ToEntity, h.ToField) {
			continue
		}
		key := h.FromEntity + "." + h.FromField + ">" + h.ToEntity + "." + h.ToField
		if seen[key] {
			continue
		}
		seen[key] = true
		h.Source = models.RelationshipConstraint
		schema.Relationships = append(schema.Relationships, h)
	}
	if err := rows.Err(); err != nil {
		return datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, d.Classify)
	}
	return nil
}

func hasField(schema *models.SchemaModel, entity, field string) bool {
	e, ok := schema.Entity(entity)
	if !ok {
		return false
	}
	_, ok = e.Field(field)
	return ok
}
