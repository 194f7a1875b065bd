package main

import (
	"github.com/spf13/cobra"

	"github.com/keepsake-dev/keepsake/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "settings",
	Short:   "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteFile(path, config.Default(), force); err != nil {
			return err
		}
		sess.out.Success("wrote %s", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sess.structured() {
			return sess.encode(sess.cfg)
		}
		if sess.cfgFile != "" {
			sess.out.Println(sess.out.Muted("# " + sess.cfgFile))
		} else {
			sess.out.Println(sess.out.Muted("# no config file found; showing defaults"))
		}
		return config.Write(sess.out.Out(), sess.cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print where configuration is read from",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sess.cfgFile != "" {
			sess.out.Println(sess.cfgFile)
			return nil
		}
		sess.out.Println(config.DefaultPath() + " (not created)")
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "Where to write (default: $XDG_CONFIG_HOME/keepsake/config.toml)")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
