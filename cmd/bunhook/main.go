/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command bunhook defines the configured models and migrates their
// datastores.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomoncle/bunhook"
	"github.com/tomoncle/bunhook/config"
	"github.com/tomoncle/bunhook/database"
	"github.com/tomoncle/bunhook/utils"
)

var Version = "0.1.0"

type settingsKey struct{}

func settingsFrom(cmd *cobra.Command) *config.Settings {
	s, _ := cmd.Context().Value(settingsKey{}).(*config.Settings)
	return s
}

func newRootCmd() *cobra.Command {
	var cfgFile, logLevel, logFormat string
	root := &cobra.Command{
		Use:     "bunhook",
		Short:   "Define models and migrate their datastores",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			if logFormat != "" {
				utils.ConfigureConsoleLogFormat(logFormat)
			}
			if logLevel != "" {
				utils.ConfigureLogLevel(logLevel)
			}
			s, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			if s.File != "" {
				database.GetLogger().Debug("Using config file", "file", s.File)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), settingsKey{}, s))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./bunhook.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", "", "log output: text or json")
	config.BindFlags(flags)
	_ = root.RegisterFlagCompletionFunc("migrate", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"safe", "drop", "alter", "default"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newMigrateCmd(), newModelsCmd(), newSchemasCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Define every model and sync the schema of each datastore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := settingsFrom(cmd)
			opts, err := s.HookOptions(nil)
			if err != nil {
				return err
			}
			// Nothing signals readiness from the command line.
			opts.WaitForORM = false

			hook := bunhook.New(opts)
			defer func() { _ = hook.Close() }()
			if err := hook.Run(cmd.Context()); err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), hook.Registry().Models())
		},
	}
}

func printModels(w io.Writer, models []*database.ModelClass) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tDATASTORE\tTABLE")
	for _, m := range models {
		table := m.TableName()
		if m.Schema() != "" {
			table = m.Schema() + "." + table
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name(), m.Engine().Name(), table)
	}
	return tw.Flush()
}

func newModelsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model descriptions found in the models directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := settingsFrom(cmd)
			opts, err := s.HookOptions(nil)
			if err != nil {
				return err
			}
			source := opts.Source
			if !all {
				source = bunhook.New(opts).Configure()
			}
			models, err := source.Discover(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tDATASTORE\tATTRIBUTES")
			models.Range(func(name string, d *database.ModelDescription) bool {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", name, d.ConnectionName(opts.Config.DefaultDatastore), len(d.Attributes.Names()))
				return true
			})
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include models the filter hands to another persistence layer")
	return cmd
}

func newSchemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List the schemas of every datastore that supports them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := settingsFrom(cmd)
			conns, err := database.ResolveConnections(cmd.Context(), s.ResolvedDatastores(), s.DefaultDatastore(),
				database.ResolveOptions{EnvOverrides: s.ORM.EnvOverrides})
			if err != nil {
				return err
			}
			defer func() { _ = conns.Close() }()

			out := cmd.OutOrStdout()
			for _, name := range conns.Names() {
				engine, _ := conns.Get(name)
				if name != engine.Name() || !engine.SupportsSchemas() {
					continue
				}
				schemas, err := engine.ShowAllSchemas(cmd.Context())
				if err != nil {
					return fmt.Errorf("datastore %s: %w", name, err)
				}
				for _, schema := range schemas {
					fmt.Fprintf(out, "%s\t%s\n", name, schema)
				}
			}
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
