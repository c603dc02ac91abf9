package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bmkramer/academic-observatory-workflows/internal/config"
)

// envPrefix prefixes the environment variables that override flags, e.g.
// ORCIDCTL_WORKFLOW_ID for --workflow-id.
const envPrefix = "ORCIDCTL"

var subcommandFns = map[string]func(cfg *config.Config, stdout io.Writer) *cobra.Command{}

// NewRootCommand creates the top level command with every registered
// subcommand.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg := config.Load()
	rc := &cobra.Command{
		Use:           "orcidctl",
		Short:         "orcidctl - run and schedule the ORCID telescope",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setAllConfig(viper.New(), cmd.Flags(), envPrefix)
		},
	}
	for _, fn := range subcommandFns {
		rc.AddCommand(fn(cfg, stdout))
	}
	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// setAllConfig applies environment overrides to every flag the user did not
// set on the command line. Variables are the flag names upper-cased with
// dashes replaced by underscores, prefixed with envPrefix.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet, envPrefix string) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		var value string
		if f.Value.Type() == "stringSlice" {
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		if value == "" {
			return
		}
		if err := f.Value.Set(value); err != nil {
			flagErr = fmt.Errorf("invalid value for --%s: %w", f.Name, err)
		}
	})
	return flagErr
}
