package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Command Builders
// =============================================================================

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", "",
		"Path to YAML configuration file (or set TARITI_CONFIG)")
}

// buildServeCmd creates the "serve" command that starts the HTTP server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant HTTP server",
		Long: `Start the HTTP server with the chat, approval, history and settings APIs.

The server will:
  1. Load configuration from the specified file and the environment
  2. Connect to the database (or keep everything in memory)
  3. Configure the LLM providers and the tool registry
  4. Serve HTTP until SIGINT or SIGTERM, then drain running turns`,
		Example: `  # Start with a config file
  tariti serve --config tariti.yaml

  # Start with debug logging
  tariti serve --config tariti.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildMigrateCmd creates the "migrate" command that applies the schema.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Apply the table definitions for the configured SQL driver.

Every statement is idempotent, so running the command twice is safe.
The memory driver has no schema and the command is a no-op for it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, resolveConfigPath(configPath))
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// buildResolveCmd creates the "resolve" command for external values.
func buildResolveCmd() *cobra.Command {
	var (
		configPath string
		params     []string
		compact    bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <path>",
		Short: "Resolve an external API value",
		Long: `Resolve a dotted external value reference such as amocrm.lead(123).name
against the configured CRM and telephony accounts and print it as JSON.`,
		Example: `  tariti resolve amocrm.leads_list --param limit=5
  tariti resolve "amocrm.lead(1234).name"
  tariti resolve amocrm.account --compact`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			return runResolve(cmd, resolveConfigPath(configPath), args[0], parsed, compact)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&compact, "compact", false, "Print JSON on one line")
	return cmd
}

// buildVariablesCmd creates the "variables" command.
func buildVariablesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "variables",
		Short: "List the external values the resolver understands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVariables(cmd, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	var validatePath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(validatePath))
		},
	}
	addConfigFlag(validateCmd, &validatePath)

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	cmd.AddCommand(validateCmd, schemaCmd)
	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tariti %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
