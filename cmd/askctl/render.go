package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

const maxCellWidth = 60

// errRunFailed signals a failed envelope that was already printed.
var errRunFailed = errors.New("run failed")

func renderEnvelope(env *models.ResultEnvelope) error {
	if env.Query != nil {
		title := pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint(env.Query.Dialect)
		pterm.DefaultBox.WithTitle(title).WithPadding(1).Println(env.Query.String())
		pterm.Println()
	}

	if env.Failed() {
		pterm.Error.Printfln("%s during %s: %s", env.Error.Kind, env.Error.Stage, env.Error.Message)
		if env.Error.Suggestion != "" {
			pterm.Info.Println(env.Error.Suggestion)
		}
		return nil
	}

	if len(env.Columns) > 0 {
		if err := pterm.DefaultTable.WithHasHeader().WithData(rowsTable(env)).Render(); err != nil {
			return err
		}
	}
	summary := fmt.Sprintf("%d %s in %.1f ms", env.RowCount, plural(env.RowCount, "row", "rows"), env.ExecutionTimeMs)
	if env.HasMore {
		summary += " (more available, raise --limit to see them)"
	}
	pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint(summary))

	if len(env.Notes) > 0 {
		items := make([]pterm.BulletListItem, 0, len(env.Notes))
		for _, n := range env.Notes {
			text := n.Kind
			if n.Column != "" {
				text = n.Column + ": " + text
			}
			if n.Detail != "" {
				text += " (" + n.Detail + ")"
			}
			items = append(items, pterm.BulletListItem{Level: 0, Text: text})
		}
		return pterm.DefaultBulletList.WithItems(items).Render()
	}
	return nil
}

func rowsTable(env *models.ResultEnvelope) pterm.TableData {
	data := make(pterm.TableData, 0, len(env.Rows)+1)
	data = append(data, env.Columns)
	for _, row := range env.Rows {
		line := make([]string, len(env.Columns))
		for i, col := range env.Columns {
			v, _ := row.Get(col)
			line[i] = formatCell(v)
		}
		data = append(data, line)
	}
	return data
}

// formatCell renders a normalized value for a terminal table.
func formatCell(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		s = val
	case []byte:
		s = base64.StdEncoding.EncodeToString(val)
	case map[string]any, []any, models.Row:
		raw, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprint(val)
		} else {
			s = string(raw)
		}
	default:
		s = fmt.Sprint(val)
	}
	return truncate(s, maxCellWidth)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// presentError formats a command error for stderr.
func presentError(err error) string {
	if errors.Is(err, errRunFailed) {
		return "askctl: " + err.Error()
	}
	if ce, ok := apperrors.As(err); ok {
		msg := "askctl: " + ce.Error()
		if ce.Suggestion != "" {
			msg += "\n  " + ce.Suggestion
		}
		return msg
	}
	return "askctl: " + err.Error()
}
