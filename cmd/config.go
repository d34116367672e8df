package cmd

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/speakcapture/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View the resolved configuration and choose the preferred assessment part.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Printf("# %s\n", cfgFile)
		fmt.Print(string(out))
		return nil
	},
}

var configPartsCmd = &cobra.Command{
	Use:   "parts",
	Short: "List assessment parts",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := config.ReadRoot(cfgFile)
		if err != nil {
			return err
		}

		active := root.ActivePart
		if active == "" {
			active = config.DefaultPart
		}
		for _, name := range root.PartNames() {
			marker := " "
			if name == active {
				marker = "*"
			}
			line := fmt.Sprintf("%s %s", marker, name)
			if desc := root.Parts[name].Description; desc != "" {
				line += "  " + desc
			}
			fmt.Println(line)
		}
		return nil
	},
}

var configSetPartCmd = &cobra.Command{
	Use:   "set-part [part]",
	Short: "Set the preferred assessment part",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		root, err := config.ReadRoot(cfgFile)
		if err != nil {
			return err
		}
		names := root.PartNames()
		if name != config.DefaultPart && !slices.Contains(names, name) {
			return fmt.Errorf("part '%s' not found (available: %s)", name, strings.Join(names, ", "))
		}

		if err := config.UpdateActivePart(cfgFile, name); err != nil {
			return err
		}
		fmt.Printf("Active part set to %s in %s\n", name, cfgFile)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPartsCmd)
	configCmd.AddCommand(configSetPartCmd)
}
