package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

var askFlags struct {
	timeout time.Duration
	limit   int
	recent  []string
	explain bool
	json    bool
}

var askCmd = &cobra.Command{
	Use:   "ask PROFILE QUESTION...",
	Short: "Answer a plain-language question against a saved profile",
	Example: `  askctl ask shop "top 5 orders by total"
  askctl ask shop how many users signed up last week --explain`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.connect(ctx, args[0])
		if err != nil {
			return err
		}
		question := strings.Join(args[1:], " ")

		spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Thinking about: " + question)
		env := s.rt.Engine.Ask(ctx, id, question, services.AskOptions{
			TimeoutMs:      int(askFlags.timeout / time.Millisecond),
			ResultLimit:    askFlags.limit,
			RecentEntities: askFlags.recent,
		})
		var explanation string
		if askFlags.explain {
			explanation, err = s.rt.Engine.Explain(ctx, env)
		}
		_ = spinner.Stop()
		if err != nil {
			return err
		}

		if askFlags.json {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			var out any = env
			if askFlags.explain {
				out = struct {
					Result      *models.ResultEnvelope `json:"result"`
					Explanation string                 `json:"explanation"`
				}{env, explanation}
			}
			if err := enc.Encode(out); err != nil {
				return err
			}
		} else {
			if err := renderEnvelope(env); err != nil {
				return err
			}
			if explanation != "" {
				pterm.Println()
				pterm.Info.Println(explanation)
			}
		}
		if env.Failed() {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	f := askCmd.Flags()
	f.DurationVar(&askFlags.timeout, "timeout", 0, "run timeout, defaults to the engine setting")
	f.IntVar(&askFlags.limit, "limit", 0, "maximum rows to return")
	f.StringSliceVar(&askFlags.recent, "recent", nil, "entities discussed recently, used to break ties")
	f.BoolVar(&askFlags.explain, "explain", false, "explain the query and its result")
	f.BoolVar(&askFlags.json, "json", false, "print the result envelope as JSON")
	rootCmd.AddCommand(askCmd)
}
