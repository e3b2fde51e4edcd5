package main

import (
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-ask/pkg/mcp"
)

var mcpAllowConnect bool

var mcpCmd = &cobra.Command{
	Use:   "mcp [PROFILE...]",
	Short: "Serve the engine as an MCP server over stdio",
	Long: `Serve the ask, execute, explain and schema tools to an MCP client over
stdin and stdout. The named profiles are connected before serving; logs go to
stderr when --verbose is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, profile := range args {
			if _, err := s.connect(ctx, profile); err != nil {
				return err
			}
		}

		srv := mcp.NewServer("ekaya-ask", Version, s.logger)
		srv.RegisterEngineTools(s.rt.Engine, mcpAllowConnect || len(args) == 0)
		return srv.ServeStdio(ctx)
	},
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpAllowConnect, "allow-connect", false, "expose connect and disconnect tools (always on when no profile is given)")
	rootCmd.AddCommand(mcpCmd)
}
