package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// EvmilConfig holds defaults for command flags. Values given on the
// command line win over the config file.
type EvmilConfig struct {
	Debug     bool   `json:"debug,omitempty" yaml:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile" jsonschema:"title=Log File,description=Write logs to this file instead of stderr"`
	Full      bool   `json:"full,omitempty" yaml:"full" jsonschema:"title=Full,description=Show block entry states and finding metadata"`
	CFA       *bool  `json:"cfa,omitempty" yaml:"cfa" jsonschema:"title=Control-flow analysis,description=Run the control-flow analysis and detectors,default=true"`
	StepLimit int    `json:"stepLimit,omitempty" yaml:"stepLimit" jsonschema:"title=Step Limit,description=Maximum instructions executed by run,minimum=1"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (EvmilConfig, error) {
	var cfg EvmilConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c EvmilConfig) flagValues() map[string]string {
	values := map[string]string{}
	if c.Debug {
		values["debug"] = "true"
	}
	if c.LogFile != "" {
		values["log-file"] = c.LogFile
	}
	if c.Full {
		values["full"] = "true"
	}
	if c.CFA != nil {
		values["cfa"] = strconv.FormatBool(*c.CFA)
	}
	if c.StepLimit > 0 {
		values["steps"] = strconv.Itoa(c.StepLimit)
	}
	return values
}

// applyConfig sets every flag of cmd the user did not pass explicitly
// from cfg. Flags the command does not have are skipped.
func applyConfig(cmd *cobra.Command, cfg EvmilConfig) error {
	for name, value := range cfg.flagValues() {
		f := cmd.Flags().Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		if err := f.Value.Set(value); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	return nil
}

var schemaCmd = &cobra.Command{
	Use:    "schema",
	Short:  "Generate JSON schema for configuration",
	Long:   "Generate JSON schema for the evmil configuration file",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := new(jsonschema.Reflector)
		bts, err := json.MarshalIndent(reflector.Reflect(&EvmilConfig{}), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(bts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
