// Package jsonutil decodes loosely typed JSON produced by language models
// and inference plugins.
package jsonutil

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// models return numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal json.Number
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return numVal.String()
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}

// FlexibleFloat reads a number that may arrive as a JSON number, a numeric
// string ("0.8") or a percentage string ("80%"). ok is false for anything else.
func FlexibleFloat(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	s := strings.TrimSpace(FlexibleStringValue(raw))
	percent := strings.HasSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, false
	}
	if percent {
		f /= 100
	}
	return f, true
}

// FlexibleInt reads a whole number that may arrive as a string or as a float
// with no fractional part. ok is false for anything else.
func FlexibleInt(raw json.RawMessage) (int, bool) {
	if isNull(raw) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(FlexibleStringValue(raw)), 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
