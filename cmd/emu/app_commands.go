// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/threeeyedemu/emu/internal/models"
)

func RunAppCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage the app catalogue",
	}

	cmd.AddCommand(runAppAddCommand(), runAppListCommand())
	return cmd
}

func runAppAddCommand() *cobra.Command {
	var (
		id          string
		slug        string
		name        string
		description string
		priceCents  int64
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an app",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if slug == "" || name == "" {
				return errors.New("--slug and --name are required")
			}

			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			app, err := env.apps.Create(cmd.Context(), &models.App{
				ID:          id,
				Slug:        slug,
				Name:        name,
				Description: description,
				PriceCents:  priceCents,
				Active:      true,
			})
			if err != nil {
				return err
			}

			cmd.Printf("App %s created with id %s\n", app.Slug, app.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "App id (generated when empty)")
	cmd.Flags().StringVar(&slug, "slug", "", "URL slug used in asset paths")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().Int64Var(&priceCents, "price-cents", 0, "Price in cents")
	return cmd
}

func runAppListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List apps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			apps, err := env.apps.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(apps) == 0 {
				cmd.Println("No apps found")
				return nil
			}

			for _, app := range apps {
				platforms, err := env.versions.ListActivePlatforms(cmd.Context(), app.ID)
				if err != nil {
					return err
				}
				cmd.Printf("%s\t%s\t%s\tprice=%d\tplatforms=%v\n", app.ID, app.Slug, app.Name, app.PriceCents, platforms)
			}
			return nil
		},
	}
}

func RunVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Manage uploaded app builds",
	}

	cmd.AddCommand(runVersionAddCommand())
	return cmd
}

func runVersionAddCommand() *cobra.Command {
	var (
		appID    string
		version  string
		platform string
		fileURL  string
		fileSize int64
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a build of an app for a platform",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if appID == "" || version == "" || platform == "" || fileURL == "" {
				return errors.New("--app, --version, --platform and --file-url are required")
			}

			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			svc, err := env.localDownloadService()
			if err != nil {
				return err
			}

			created, err := svc.RegisterAppVersion(cmd.Context(), &models.AppVersion{
				AppID:    appID,
				Version:  version,
				Platform: platform,
				FileURL:  fileURL,
				FileSize: fileSize,
				Active:   true,
			})
			if err != nil {
				return err
			}

			cmd.Printf("Registered %s %s for %s\n", created.AppID, created.Version, created.Platform)
			return nil
		},
	}

	cmd.Flags().StringVar(&appID, "app", "", "App id or slug")
	cmd.Flags().StringVar(&version, "version", "", "Semantic version of the build")
	cmd.Flags().StringVar(&platform, "platform", "", "Target platform")
	cmd.Flags().StringVar(&fileURL, "file-url", "", "Location of the uploaded build")
	cmd.Flags().Int64Var(&fileSize, "file-size", 0, "Build size in bytes")
	return cmd
}
