package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	"gopkg.in/yaml.v3"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage gdscraper configuration",
	Long: `am - Manage gdscraper configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (GDSCRAPER_* prefix, plus APP_ID, KAFKA_* and AWS_*)
3. Project config (./am.toml, searched upward)
4. User config (~/.gdscraper/am.toml)
5. System config (/etc/gdscraper/config.toml)
6. Default values

Examples:
  gdscraper am show                    # Show current configuration
  gdscraper am show --format json      # Show configuration in JSON format
  gdscraper am show --sources          # Show where each setting comes from
  gdscraper am check                   # Check am.toml for typos and invalid values
  gdscraper am init                    # Write a default am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective gdscraper configuration from all sources. Secrets are redacted.",
	RunE:  runAmShow,
}

var amCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Check a config file",
	Long:  "Decode a config file strictly, reporting unknown keys and invalid values. Defaults to the project am.toml.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmCheck,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file",
	Long:  "Write the default configuration to path (./am.toml by default). An existing file is kept unless --force is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var (
	configFormat string
	showSources  bool
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amShowCmd.Flags().BoolVar(&showSources, "sources", false, "Show the source of every setting")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amCheckCmd)
	AmCmd.AddCommand(amInitCmd)
}

// redactedConfig copies cfg with credentials masked
func redactedConfig(cfg *am.Config) am.Config {
	out := *cfg
	if out.Storage.S3.AccessKeyID != "" {
		out.Storage.S3.AccessKeyID = "[REDACTED]"
	}
	if out.Storage.S3.SecretAccessKey != "" {
		out.Storage.S3.SecretAccessKey = "[REDACTED]"
	}
	return out
}

// formatConfig renders cfg as toml, json or yaml
func formatConfig(cfg am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to JSON")
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to YAML")
		}
		return "# gdscraper configuration\n" + string(data), nil
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to TOML")
		}
		return "# gdscraper configuration\n" + string(data), nil
	}
	return "", errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if showSources {
		data := pterm.TableData{{"Key", "Source", "From"}}
		for _, s := range am.Introspect() {
			data = append(data, []string{s.Key, string(s.Source), s.SourcePath})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	out, err := formatConfig(redactedConfig(cfg), configFormat)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func runAmCheck(cmd *cobra.Command, args []string) error {
	path := am.ProjectConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.WithHint(errors.New("no am.toml found"), "pass a path or run gdscraper am init")
	}

	result, err := am.CheckFile(path)
	if err != nil {
		return err
	}
	for _, key := range result.UnknownKeys {
		pterm.Warning.Printfln("%s: unknown key %s", path, key)
	}
	if result.Err != nil {
		pterm.Error.Printfln("%s: %v", path, result.Err)
	}
	if !result.OK() {
		return errors.Newf("%s has problems", path)
	}
	pterm.Success.Printfln("%s is valid", path)
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := "am.toml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return errors.WithHint(errors.Newf("%s already exists", path), "use --force to overwrite it (a backup is kept)")
	}

	if err := am.Save(path, am.DefaultConfig()); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote default configuration to %s", path)
	return nil
}
