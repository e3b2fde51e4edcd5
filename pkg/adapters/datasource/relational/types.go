package relational

import (
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// MapType maps a native column type to a portable schema type.
// Matching is by keyword so sized and qualified forms (varchar(255),
// timestamp with time zone, DECIMAL(10,2)) map like their base type.
func MapType(native string) string {
	t := strings.ToLower(strings.TrimSpace(native))
	if i := strings.IndexByte(t, '('); i > 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch {
	case t == "":
		return models.TypeUnknown
	case strings.HasPrefix(t, "_") || strings.HasSuffix(t, "[]") || t == "array" || t == "list":
		return models.TypeArray
	case strings.Contains(t, "uuid") || t == "uniqueidentifier":
		return models.TypeUUID
	case strings.Contains(t, "bool") || t == "bit":
		return models.TypeBoolean
	case strings.Contains(t, "interval"), strings.Contains(t, "point"):
		return models.TypeString
	case strings.Contains(t, "timestamp") || strings.Contains(t, "datetime"):
		return models.TypeTimestamp
	case t == "date":
		return models.TypeDate
	case strings.Contains(t, "serial") || strings.Contains(t, "int"):
		return models.TypeInteger
	case strings.Contains(t, "numeric") || strings.Contains(t, "decimal") || strings.Contains(t, "money"):
		return models.TypeDecimal
	case strings.Contains(t, "float") || strings.Contains(t, "double") || t == "real":
		return models.TypeNumber
	case strings.Contains(t, "json"):
		return models.TypeJSON
	case strings.Contains(t, "bytea") || strings.Contains(t, "blob") || strings.Contains(t, "binary") || t == "image":
		return models.TypeBinary
	case strings.Contains(t, "char") || strings.Contains(t, "text") || strings.Contains(t, "string") ||
		strings.Contains(t, "clob") || t == "enum" || t == "xml" || t == "time" || strings.HasPrefix(t, "time ") || t == "inet" || t == "citext":
		return models.TypeString
	}
	return models.TypeUnknown
}
