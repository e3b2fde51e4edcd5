package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

var schemaFlags struct {
	refresh bool
	json    bool
}

var schemaCmd = &cobra.Command{
	Use:   "schema PROFILE",
	Short: "Show the entities and relationships discovered for a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Introspecting " + args[0])
		schema, err := func() (*models.SchemaModel, error) {
			id, err := s.connect(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return s.rt.Engine.GetSchema(ctx, id, schemaFlags.refresh)
		}()
		_ = spinner.Stop()
		if err != nil {
			return err
		}

		if schemaFlags.json {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		}
		return renderSchema(schema)
	},
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaFlags.refresh, "refresh", false, "re-introspect instead of using the cached schema")
	schemaCmd.Flags().BoolVar(&schemaFlags.json, "json", false, "print the schema model as JSON")
	rootCmd.AddCommand(schemaCmd)
}

func renderSchema(schema *models.SchemaModel) error {
	pterm.Println(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprintf("%d entities (%s)", len(schema.Entities), schema.Family))
	if err := pterm.DefaultTable.WithHasHeader().WithData(schemaTable(schema)).Render(); err != nil {
		return err
	}
	if len(schema.Relationships) == 0 {
		return nil
	}
	pterm.Println()
	pterm.Println(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprint("Relationships"))
	items := make([]pterm.BulletListItem, 0, len(schema.Relationships))
	for _, rel := range schema.Relationships {
		items = append(items, pterm.BulletListItem{
			Level: 0,
			Text:  fmt.Sprintf("%s.%s -> %s.%s (%s)", rel.FromEntity, rel.FromField, rel.ToEntity, rel.ToField, rel.Source),
		})
	}
	return pterm.DefaultBulletList.WithItems(items).Render()
}

func schemaTable(schema *models.SchemaModel) pterm.TableData {
	data := pterm.TableData{{"Entity", "Kind", "Fields", "Keys"}}
	for _, e := range schema.Entities {
		fields := "unknown"
		if e.FieldsKnown {
			parts := make([]string, 0, len(e.Fields))
			for _, f := range e.Fields {
				parts = append(parts, f.Name+" "+f.Type)
			}
			fields = truncate(strings.Join(parts, ", "), maxCellWidth)
		}
		var keys []string
		for _, f := range e.KeyFields() {
			keys = append(keys, f.Name)
		}
		if len(e.PartitionKey) > 0 {
			keys = append([]string{"(" + strings.Join(e.PartitionKey, ", ") + ")"}, e.ClusteringKey...)
		}
		data = append(data, []string{e.Name, string(e.Kind), fields, strings.Join(keys, ", ")})
	}
	return data
}
