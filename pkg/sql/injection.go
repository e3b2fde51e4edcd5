package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a parameter value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name (or position) of the parameter that failed the check
	ParamValue  any    // The value that was checked
}

// CheckParameterForInjection uses libinjection to detect SQL injection patterns
// in a parameter value. Only string values are checked.
//
// Bound parameters cannot change statement structure, so a hit here does not
// mean the query is exploitable; it means a value arriving from inference or a
// caller looks like an attack and is worth refusing.
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
			ParamValue:  value,
		}
	}

	return nil
}

// CheckPositionalParameters validates bound values in placeholder order.
// Parameter names are reported as "$1", "$2", ... regardless of dialect.
func CheckPositionalParameters(params []any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for i, value := range params {
		if list, ok := value.([]any); ok {
			for j, item := range list {
				if r := CheckParameterForInjection(fmt.Sprintf("$%d[%d]", i+1, j), item); r != nil {
					results = append(results, r)
				}
			}
			continue
		}
		if r := CheckParameterForInjection(fmt.Sprintf("$%d", i+1), value); r != nil {
			results = append(results, r)
		}
	}
	return results
}
