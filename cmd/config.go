package cmd

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/sdrecord/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage sdrecord configuration profiles.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved configuration",
	Long: `Print the resolved configuration as YAML, followed by where each value
comes from: the built-in default, the default profile (inherited) or the selected profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))

		if len(cfg.Inheritance) == 0 {
			return nil
		}

		keys := make([]string, 0, len(cfg.Inheritance))
		for key := range cfg.Inheritance {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Printf("\n# overrides\n")
		for _, key := range keys {
			fmt.Printf("# %s %s\n", key, getInheritanceIndicator(cfg.Source(key)))
		}
		return nil
	},
}

var configProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List configuration profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		rootConfig, err := config.ReadRootConfig(cfgFile)
		if err != nil {
			return err
		}

		active := rootConfig.ActiveConfig
		if active == "" {
			active = "default"
		}
		for _, name := range rootConfig.Profiles() {
			marker := " "
			if name == active {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use <profile>",
	Short: "Set the active configuration profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rootConfig, err := config.ReadRootConfig(cfgFile)
		if err != nil {
			return err
		}
		// Refuse profiles that do not resolve to a valid configuration
		if _, err := rootConfig.Resolve(args[0]); err != nil {
			return err
		}

		if err := config.UpdateActiveConfig(cfgFile, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active profile: %s\n", args[0])
		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[default]"
	}
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configProfilesCmd)
	configCmd.AddCommand(configUseCmd)
}
