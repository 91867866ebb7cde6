package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
)

// RunFunc is the body of the root command.
type RunFunc func() error

// App is a cobra command whose flags, config file and environment are
// merged into one options struct before it runs.
type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	noConfig    bool
	args        cobra.PositionalArgs
	commands    []*cobra.Command
	cmd         *cobra.Command
}

// Option configures an App.
type Option func(*App)

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithNoConfig disables the --config flag.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

// WithValidArgs sets the positional argument validator.
func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) { a.args = args }
}

// WithDefaultValidArgs rejects every positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithSubCommands adds commands that share the root options.
func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.commands = append(a.commands, cmds...) }
}

func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{name: name, shortDesc: shortDesc}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadOptions(cmd)
		},
	}
	if a.runFunc != nil {
		cmd.RunE = func(*cobra.Command, []string) error { return a.runFunc() }
	}

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}
	if !a.noConfig {
		addConfigFlag(a.name, namedFlagSets.FlagSet("global"))
	}
	for _, f := range namedFlagSets.FlagSets {
		cmd.PersistentFlags().AddFlagSet(f)
	}

	cols, _, _ := termSize()
	cmd.SetUsageFunc(func(cmd *cobra.Command) error {
		fmt.Fprintf(cmd.OutOrStderr(), "Usage:\n  %s\n", cmd.UseLine())
		cliflag.PrintSections(cmd.OutOrStderr(), namedFlagSets, cols)
		return nil
	})
	cmd.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n\nUsage:\n  %s\n", cmd.Long, cmd.UseLine())
		if cmd.HasAvailableSubCommands() {
			fmt.Fprintln(cmd.OutOrStdout(), "\nCommands:")
			for _, sub := range cmd.Commands() {
				if sub.IsAvailableCommand() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %s\n", sub.Name(), sub.Short)
				}
			}
		}
		cliflag.PrintSections(cmd.OutOrStdout(), namedFlagSets, cols)
	})

	cmd.AddCommand(a.commands...)
	a.cmd = cmd
}

// loadOptions merges config file, environment and flags into the options
// and validates the result.
func (a *App) loadOptions(cmd *cobra.Command) error {
	if a.options == nil {
		return nil
	}

	if !a.noConfig {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		if err := readConfig(); err != nil {
			return err
		}
		if err := viper.Unmarshal(a.options); err != nil {
			return fmt.Errorf("failed to unmarshal configuration: %w", err)
		}
	}

	if err := a.options.Complete(); err != nil {
		return err
	}
	return a.options.Validate()
}

// Command returns the root cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits non-zero on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", a.name, err)
		os.Exit(1)
	}
}
