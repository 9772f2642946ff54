package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blkops/snapmerge/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample snapmerge configuration file.

By default, the configuration file is created as ./snapmerge.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  snapmerge init

  # Initialize with custom path
  snapmerge init --config /etc/snapmerge/snapmerge.yaml

  # Force overwrite existing config
  snapmerge init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = "snapmerge.yaml"
	}

	if err := config.WriteSample(configPath, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Run a merge with: snapmerge merge --base <device> --manifest <ops.yaml>")
	return nil
}
