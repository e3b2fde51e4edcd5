package datasource

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// DefaultMaxDecimalDigits bounds the significant digits carried for exact decimals.
const DefaultMaxDecimalDigits = 38

// Normalizer maps driver values to the common value model:
// strings, booleans, json.Number for numerics, RFC3339 strings for times,
// base64 for binary, and nested models.Row / []any for documents.
// Lossy conversions are recorded as notes. Output is deterministic.
type Normalizer struct {
	maxDigits int
}

// NewNormalizer creates a normalizer. maxDigits <= 0 uses DefaultMaxDecimalDigits.
func NewNormalizer(maxDigits int) *Normalizer {
	if maxDigits <= 0 {
		maxDigits = DefaultMaxDecimalDigits
	}
	return &Normalizer{maxDigits: maxDigits}
}

// Normalize converts raw into rows. maxRows is the caller's row bound: rows
// beyond it are dropped with a note and set HasMore, as does a raw result the
// executor marked truncated. A page that exactly fills maxRows is complete.
func (n *Normalizer) Normalize(raw *RawResult, maxRows int) (*NormalizedResult, error) {
	if raw == nil {
		return nil, fmt.Errorf("no result to normalize")
	}

	out := &NormalizedResult{
		Columns: raw.ColumnNames(),
		Rows:    make([]models.Row, 0, len(raw.Rows)),
	}
	notes := newNoteSet()

	rows := raw.Rows
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
		out.HasMore = true
		notes.add(models.Note{Kind: models.NoteRowCap, Detail: fmt.Sprintf("result capped at %d rows", maxRows)})
	}

	for i, values := range rows {
		if len(values) != len(raw.Columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(values), len(raw.Columns))
		}
		row := make(models.Row, len(values))
		for j, v := range values {
			col := raw.Columns[j]
			row[j] = models.Cell{Name: col.Name, Value: n.value(v, col.Name, col.TypeHint, notes)}
		}
		out.Rows = append(out.Rows, row)
	}

	out.RowCount = len(out.Rows)
	if raw.Truncated {
		out.HasMore = true
		notes.add(models.Note{Kind: models.NoteRowCap, Detail: fmt.Sprintf("result capped at %d rows", maxRows)})
	}
	out.Notes = notes.list()
	return out, nil
}

// Value normalizes a single value, returning any notes it produced.
func (n *Normalizer) Value(v any, column, typeHint string) (any, []models.Note) {
	notes := newNoteSet()
	out := n.value(v, column, typeHint, notes)
	return out, notes.list()
}

func (n *Normalizer) value(v any, column, hint string, notes *noteSet) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string, json.Number:
		if s, ok := x.(string); ok && isDecimalHint(hint) {
			if d, err := decimal.NewFromString(s); err == nil {
				return n.decimal(d, column, notes)
			}
		}
		return x
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return json.Number(fmt.Sprint(x))
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return n.float(float64(x), column, notes)
		}
		return json.Number(decimal.NewFromFloat32(x).String())
	case float64:
		return n.float(x, column, notes)
	case decimal.Decimal:
		return n.decimal(x, column, notes)
	case *big.Int:
		if x == nil {
			return nil
		}
		return n.decimal(decimal.NewFromBigInt(x, 0), column, notes)
	case *big.Float:
		if x == nil {
			return nil
		}
		d, err := decimal.NewFromString(x.Text('g', -1))
		if err != nil {
			return nil
		}
		return n.decimal(d, column, notes)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case uuid.UUID:
		return x.String()
	case [16]byte:
		if strings.Contains(strings.ToUpper(hint), "UUID") || strings.EqualFold(hint, "uniqueidentifier") {
			return uuid.UUID(x).String()
		}
		return n.binary(x[:], column, notes)
	case []byte:
		return n.bytes(x, column, hint, notes)
	case models.Row:
		out := make(models.Row, len(x))
		for i, c := range x {
			out[i] = models.Cell{Name: c.Name, Value: n.value(c.Value, column+"."+c.Name, "", notes)}
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(models.Row, len(keys))
		for i, k := range keys {
			out[i] = models.Cell{Name: k, Value: n.value(x[k], column+"."+k, "", notes)}
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = n.value(item, column, "", notes)
		}
		return out
	case fmt.Stringer:
		return x.String()
	}

	// Typed slices and pointers from drivers ([]string, []int64, *string, ...).
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return n.value(rv.Elem().Interface(), column, hint, notes)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = n.value(rv.Index(i).Interface(), column, "", notes)
		}
		return out
	case reflect.Map:
		generic := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			generic[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		return n.value(generic, column, hint, notes)
	}
	return fmt.Sprint(v)
}

func (n *Normalizer) float(f float64, column string, notes *noteSet) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		notes.add(models.Note{Column: column, Kind: models.NoteNonFinite, Detail: "NaN or infinite value emitted as null"})
		return nil
	}
	return json.Number(decimal.NewFromFloat(f).String())
}

// decimal emits d exactly when it fits in maxDigits significant digits,
// otherwise rounds it and flags the column.
func (n *Normalizer) decimal(d decimal.Decimal, column string, notes *noteSet) any {
	if digits := d.NumDigits(); digits > n.maxDigits {
		intDigits := digits + int(d.Exponent())
		places := n.maxDigits - intDigits
		d = d.Round(int32(places))
		notes.add(models.Note{
			Column: column,
			Kind:   models.NotePrecisionTruncated,
			Detail: fmt.Sprintf("rounded to %d significant digits", n.maxDigits),
		})
	}
	return json.Number(decimalString(d))
}

// decimalString keeps the value's scale, so NUMERIC 10.00 stays "10.00".
func decimalString(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.StringFixed(0)
}

func (n *Normalizer) bytes(b []byte, column, hint string, notes *noteSet) any {
	switch {
	case isDecimalHint(hint):
		if d, err := decimal.NewFromString(string(b)); err == nil {
			return n.decimal(d, column, notes)
		}
	case isBinaryHint(hint):
		return n.binary(b, column, notes)
	case isJSONHint(hint):
		var doc any
		if err := unmarshalNumber(b, &doc); err == nil {
			return n.value(doc, column, "", notes)
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return n.binary(b, column, notes)
}

func (n *Normalizer) binary(b []byte, column string, notes *noteSet) any {
	notes.add(models.Note{Column: column, Kind: models.NoteBinaryEncoded, Detail: "binary value encoded as base64"})
	return base64.StdEncoding.EncodeToString(b)
}

func unmarshalNumber(b []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	return dec.Decode(v)
}

func isDecimalHint(hint string) bool {
	h := strings.ToUpper(hint)
	return strings.Contains(h, "DECIMAL") || strings.Contains(h, "NUMERIC") || strings.Contains(h, "MONEY")
}

func isBinaryHint(hint string) bool {
	h := strings.ToUpper(hint)
	return h == "BYTEA" || strings.Contains(h, "BLOB") || strings.Contains(h, "BINARY") || h == "IMAGE" || h == "BINDATA"
}

func isJSONHint(hint string) bool {
	h := strings.ToUpper(hint)
	return h == "JSON" || h == "JSONB"
}

// noteSet collects notes once each, in first-seen order.
type noteSet struct {
	seen  map[models.Note]bool
	notes []models.Note
}

func newNoteSet() *noteSet {
	return &noteSet{seen: make(map[models.Note]bool)}
}

func (s *noteSet) add(n models.Note) {
	if s.seen[n] {
		return
	}
	s.seen[n] = true
	s.notes = append(s.notes, n)
}

func (s *noteSet) list() []models.Note {
	return s.notes
}
