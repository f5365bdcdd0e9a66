package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/config"
)

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Get or set library configuration values",
	Long: `Get or set library configuration values stored in .coursedex/config.yml.

Values can also be overridden per process with CDX_* environment
variables (e.g. CDX_SEARCH_LIMIT=20) or a .env file.`,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show one configuration value, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Examples:
  cdx config set rating_weight 0.7
  cdx config set dispatcher nsq
  cdx config set pdf_reader zathura`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	libDir := mustFindLibrary()
	cfg := mustLoadConfig(libDir)

	keys := config.Keys()
	if len(args) == 1 {
		keys = []string{normalizeKey(args[0])}
	}

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := cfg.Get(k)
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		values[k] = v
	}

	if humanOutput {
		if len(args) == 1 {
			outputHuman("%s\n", values[keys[0]])
			return nil
		}
		for _, k := range keys {
			outputHuman("%-22s %s\n", k+":", values[k])
		}
		return nil
	}
	outputJSON(values)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	libDir := mustFindLibrary()

	// Start from the file alone so environment overrides are not persisted.
	cfg, err := config.LoadFile(libDir)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}

	key, value := normalizeKey(args[0]), args[1]
	if err := cfg.Set(key, value); err != nil {
		exitOnError(err, "")
	}
	if err := cfg.Save(libDir); err != nil {
		exitWithError(ExitError, "saving config: %v", err)
	}

	if humanOutput {
		outputHuman("Updated %s to %s\n", key, value)
	} else {
		outputJSON(UpdateResponse{Status: "updated", Key: key, Value: value})
	}
	return nil
}

// normalizeKey converts key formats (rating-weight, RATING_WEIGHT) to config.yml keys.
func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "-", "_")
	return key
}
