package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/profiles"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved connection profiles",
}

var saveFlags struct {
	desc          models.ConnectionDescriptor
	passwordStdin bool
	skipTest      bool
}

var profileSaveCmd = &cobra.Command{
	Use:   "save NAME",
	Short: "Save a connection profile to the OS keychain",
	Example: `  askctl profile save shop --type postgres --host localhost --database shop --user reader --password-stdin
  askctl profile save cache --type redis --connection-string redis://localhost:6379/0
  askctl profile save local --type sqlite --file ./shop.db`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		desc := saveFlags.desc
		if saveFlags.passwordStdin {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			desc.Credentials.Password = password
		}
		if err := desc.Validate(); err != nil {
			return err
		}

		if !saveFlags.skipTest {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Testing connection to " + desc.DisplayName())
			err = s.rt.Engine.Test(cmd.Context(), desc)
			_ = spinner.Stop()
			if err != nil {
				return fmt.Errorf("connection test failed (use --skip-test to save anyway): %w", err)
			}
		}

		store, err := profiles.Open()
		if err != nil {
			return err
		}
		if err := store.Save(name, desc); err != nil {
			return err
		}
		pterm.Success.Printfln("Saved profile %s (%s)", name, desc.Type)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved connection profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := profiles.Open()
		if err != nil {
			return err
		}
		names, err := store.Names()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			pterm.Println("No profiles saved yet. Run: askctl profile save NAME --type TYPE ...")
			return nil
		}
		data := pterm.TableData{{"Name", "Type", "Target"}}
		for _, name := range names {
			desc, err := store.Get(name)
			if err != nil {
				data = append(data, []string{name, "?", err.Error()})
				continue
			}
			data = append(data, []string{name, desc.Type, describeTarget(desc.Credentials)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove NAME",
	Aliases: []string{"rm"},
	Short:   "Delete a saved connection profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := profiles.Open()
		if err != nil {
			return err
		}
		if err := store.Remove(args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Removed profile %s", args[0])
		return nil
	},
}

func init() {
	f := profileSaveCmd.Flags()
	f.StringVar(&saveFlags.desc.Type, "type", "", "backend type (see askctl adapters)")
	f.StringVar(&saveFlags.desc.Nickname, "nickname", "", "display name, defaults to the profile name")
	f.StringVar(&saveFlags.desc.Credentials.Host, "host", "", "server host")
	f.IntVar(&saveFlags.desc.Credentials.Port, "port", 0, "server port")
	f.StringVar(&saveFlags.desc.Credentials.Database, "database", "", "database name")
	f.StringVar(&saveFlags.desc.Credentials.Username, "user", "", "user name")
	f.BoolVar(&saveFlags.passwordStdin, "password-stdin", false, "read the password from stdin")
	f.StringVar(&saveFlags.desc.Credentials.ConnectionString, "connection-string", "", "full connection string or URI")
	f.StringVar(&saveFlags.desc.Credentials.FilePath, "file", "", "database file for embedded backends")
	f.StringVar(&saveFlags.desc.Credentials.SSLMode, "ssl-mode", "", "TLS mode")
	f.StringVar(&saveFlags.desc.Credentials.Keyspace, "keyspace", "", "keyspace for wide-column stores")
	f.StringToStringVar(&saveFlags.desc.Credentials.Options, "option", nil, "adapter option as key=value (repeatable)")
	f.BoolVar(&saveFlags.skipTest, "skip-test", false, "save without testing the connection")
	_ = profileSaveCmd.MarkFlagRequired("type")

	profileCmd.AddCommand(profileSaveCmd, profileListCmd, profileRemoveCmd)
	rootCmd.AddCommand(profileCmd)
}

// readSecret reads one line from r without its line ending.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty password on stdin")
	}
	return line, nil
}

// describeTarget renders the non-secret location of a connection.
func describeTarget(c models.Credentials) string {
	switch {
	case c.FilePath != "":
		return c.FilePath
	case c.Host != "":
		target := c.Host
		if c.Port != 0 {
			target = fmt.Sprintf("%s:%d", target, c.Port)
		}
		if c.Database != "" {
			target += "/" + c.Database
		} else if c.Keyspace != "" {
			target += "/" + c.Keyspace
		}
		return target
	case c.ConnectionString != "":
		return "(connection string)"
	}
	return "-"
}
