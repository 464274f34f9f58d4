package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tariti/internal/config"
	"github.com/haasonsaas/tariti/internal/externalapi"
	"github.com/haasonsaas/tariti/internal/storage"
)

const defaultConfigName = "tariti.yaml"

// resolveConfigPath picks the configuration file: the flag, then
// TARITI_CONFIG, then tariti.yaml in the working directory when it exists.
// An empty result means environment-only configuration.
func resolveConfigPath(path string) string {
	if path = strings.TrimSpace(path); path != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("TARITI_CONFIG")); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}
	return ""
}

// parseParams turns repeated key=value flags into resolver params.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// =============================================================================
// Migrate Command Handler
// =============================================================================

func runMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cfg.Database.Driver == "memory" {
		fmt.Fprintln(out, "Memory driver configured; nothing to migrate.")
		return nil
	}

	db, dialect, err := storage.OpenDB(storageConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(cmd.Context(), db, dialect); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintf(out, "Applied %d schema statements (%s).\n", len(storage.Schema(dialect)), dialect)
	return nil
}

// =============================================================================
// External API Command Handlers
// =============================================================================

func runResolve(cmd *cobra.Command, configPath, path string, params map[string]any, compact bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	resolver := newResolver(cfg, newLogger(cfg), nil, nil)

	value, err := resolver.Resolve(cmd.Context(), externalapi.ResolveInput{Path: path, Params: params})
	if err != nil {
		var apiErr *externalapi.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("resolve %s: %s (%s)", path, apiErr.Message, apiErr.Kind)
		}
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(value)
}

func runVariables(cmd *cobra.Command, asJSON bool) error {
	vars := externalapi.Variables()
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(vars)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tPARAMS\tDESCRIPTION")
	for _, v := range vars {
		params := append(append([]string{}, v.RequiredParams...), v.OptionalParams...)
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.ExamplePath, strings.Join(params, ","), v.Description)
	}
	return w.Flush()
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	source := configPath
	if source == "" {
		source = "environment"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration OK (%s)\n", source)
	fmt.Fprintf(out, "  listen:    %s\n", cfg.Server.Addr())
	fmt.Fprintf(out, "  database:  %s\n", cfg.Database.Driver)
	fmt.Fprintf(out, "  anthropic: %t\n", cfg.LLM.Anthropic.APIKey != "")
	fmt.Fprintf(out, "  openai:    %t\n", cfg.LLM.OpenAI.APIKey != "")
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(schema); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out)
	return err
}
