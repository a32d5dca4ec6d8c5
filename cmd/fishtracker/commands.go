// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/AleutianAI/FishTracker/services/fishtracker/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "fishtracker",
		Short: "FishTracker backend: fish detection, species catalog and sighting history",
		Long: `FishTracker identifies fish in photos uploaded by mobile devices,
keeps a catalog of species and a per-device sighting history, and answers
questions about the fish a device has seen.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe, // Defined in serve.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file if none exists",
		RunE:  runConfigInit,
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets omitted",
		RunE:  runConfigShow,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fishtracker %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the config file (default ~/.fishtracker/fishtracker.yaml)")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", path)
		return nil
	}
	if err := config.CreateDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
