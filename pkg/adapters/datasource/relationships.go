package datasource

import (
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// AddNamingRelationships adds hints for fields named after another entity:
// orders.user_id -> users.id, comments.postId -> posts._id. Fields already
// covered by a constraint hint are skipped. Hints are appended sorted so the
// model is deterministic.
func AddNamingRelationships(schema *models.SchemaModel) {
	covered := make(map[string]bool, len(schema.Relationships))
	for _, r := range schema.Relationships {
		covered[r.FromEntity+"."+r.FromField] = true
	}

	var added []models.RelationshipHint
	for i := range schema.Entities {
		from := &schema.Entities[i]
		for _, f := range from.Fields {
			if covered[from.Name+"."+f.Name] {
				continue
			}
			stem, ok := referenceStem(f.Name)
			if !ok {
				continue
			}
			to, ok := findReferencedEntity(schema, stem)
			if !ok || to.Name == from.Name {
				continue
			}
			toField, ok := primaryField(to)
			if !ok {
				continue
			}
			added = append(added, models.RelationshipHint{
				FromEntity: from.Name,
				FromField:  f.Name,
				ToEntity:   to.Name,
				ToField:    toField,
				Source:     models.RelationshipNaming,
			})
		}
	}

	sort.SliceStable(added, func(i, j int) bool {
		if added[i].FromEntity != added[j].FromEntity {
			return added[i].FromEntity < added[j].FromEntity
		}
		return added[i].FromField < added[j].FromField
	})
	schema.Relationships = append(schema.Relationships, added...)
}

// referenceStem extracts "user" from user_id, userId, UserID and user_fk.
func referenceStem(field string) (string, bool) {
	lower := strings.ToLower(field)
	for _, suffix := range []string{"_id", "_fk", "id"} {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			stem := strings.TrimSuffix(lower, suffix)
			if suffix == "id" && !hasCamelIDSuffix(field) {
				continue
			}
			return strings.TrimRight(stem, "_"), true
		}
	}
	return "", false
}

// hasCamelIDSuffix accepts userId and userID but not "paid" or "valid".
func hasCamelIDSuffix(field string) bool {
	if len(field) < 3 {
		return false
	}
	c := field[len(field)-2]
	return c == 'I'
}

func findReferencedEntity(schema *models.SchemaModel, stem string) (*models.EntityDescriptor, bool) {
	for _, candidate := range []string{inflection.Plural(stem), stem, inflection.Singular(stem)} {
		if e, ok := schema.Entity(candidate); ok {
			return e, true
		}
	}
	return nil, false
}

func primaryField(e *models.EntityDescriptor) (string, bool) {
	if keys := e.KeyFields(); len(keys) == 1 {
		return keys[0].Name, true
	}
	for _, name := range []string{"id", "_id"} {
		if f, ok := e.Field(name); ok {
			return f.Name, true
		}
	}
	return "", false
}
