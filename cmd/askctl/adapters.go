package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List the backend types this build can connect to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()
		return pterm.DefaultTable.WithHasHeader().WithData(adapterTable(s.rt.Engine.AdapterTypes())).Render()
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

func adapterTable(infos []datasource.AdapterInfo) pterm.TableData {
	data := pterm.TableData{{"Type", "Family", "Name", "Description"}}
	for _, info := range infos {
		data = append(data, []string{info.Type, string(info.Family), info.DisplayName, info.Description})
	}
	return data
}
