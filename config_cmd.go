package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ideaverse/ideaverse-cli/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Long: `Create the config file (at --config, IDEAVERSE_CONFIG, or the platform
default) listing every setting with its default. Never overwrites.`,
		RunE: runConfigInit,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), resolvedCfg)
	}

	return config.RenderEffective(resolvedCfg, cmd.OutOrStdout())
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := flagConfigPath
	if path == "" {
		path = config.ReadEnvOverrides().ConfigPath
	}

	if path == "" {
		path = config.DefaultConfigPath()
	}

	if path == "" {
		return fmt.Errorf("cannot determine config path; pass --config")
	}

	if err := config.WriteDefault(path, buildLogger(cmd.ErrOrStderr())); err != nil {
		return err
	}

	statusf(cmd.ErrOrStderr(), "Wrote %s\n", path)

	return nil
}
