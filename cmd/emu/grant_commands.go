// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/threeeyedemu/emu/internal/domain"
	"github.com/threeeyedemu/emu/internal/services/checkout"
	"github.com/threeeyedemu/emu/internal/services/downloads"
	"github.com/threeeyedemu/emu/internal/services/notifications"
)

const notifierCloseTimeout = 30 * time.Second

func RunGrantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Issue and inspect download grants",
	}

	cmd.AddCommand(runGrantCreateCommand(), runGrantInspectCommand(), runGrantRedeemCommand())
	return cmd
}

func runGrantCreateCommand() *cobra.Command {
	var (
		userID   string
		email    string
		appID    string
		platform string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record a completed purchase and issue its download link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" || email == "" || appID == "" || platform == "" {
				return errors.New("--user, --email, --app and --platform are required")
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
			notifier, err := notifications.NewService(notifications.Config{URL: env.cfg.Config.NotifierURL}, log.Logger)
			if err != nil {
				return err
			}
			notifier.Start()

			receipts, err := checkout.NewService(env.apps, env.purchases, svc, notifier).Complete(cmd.Context(), checkout.Order{
				UserID: userID,
				Email:  email,
				Items:  []checkout.Item{{AppID: appID, Platform: platform}},
			})

			closeCtx, cancel := context.WithTimeout(context.Background(), notifierCloseTimeout)
			defer cancel()
			if closeErr := notifier.Close(closeCtx); closeErr != nil {
				log.Warn().Err(closeErr).Msg("Download email may not have been sent")
			}
			if err != nil {
				return err
			}

			for _, r := range receipts {
				cmd.Printf("Purchase: %s\n", r.PurchaseID)
				cmd.Printf("Token: %s\n", r.Token)
				cmd.Printf("Download page: %s\n", r.DownloadPageURL)
				cmd.Printf("Expires: %s\n", r.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Purchasing user id")
	cmd.Flags().StringVar(&email, "email", "", "Address the download link is sent to")
	cmd.Flags().StringVar(&appID, "app", "", "App id or slug")
	cmd.Flags().StringVar(&platform, "platform", "", "Target platform")
	return cmd
}

func runGrantInspectCommand() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the state of a download grant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return errors.New("--token is required")
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

			grant, err := svc.GetDownloadByToken(cmd.Context(), token)
			if err != nil {
				return grantError(err, svc.Config().MaxDownloads)
			}

			v := downloads.View(grant, svc.Now())
			cmd.Printf("Token: %s\n", domain.MaskToken(grant.Token))
			cmd.Printf("App: %s (%s)\n", v.AppID, v.Platform)
			cmd.Printf("Status: %s\n", v.Status)
			cmd.Printf("Downloads remaining: %d of %d\n", v.DownloadsRemaining, v.MaxDownloads)
			cmd.Printf("Hours remaining: %d\n", v.HoursRemaining)
			if v.Message != "" {
				cmd.Printf("Message: %s\n", v.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Download token")
	return cmd
}

func runGrantRedeemCommand() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "redeem",
		Short: "Spend one download of a grant and print the asset URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return errors.New("--token is required")
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

			assetURL, err := svc.ProcessDownload(cmd.Context(), token, "")
			if err != nil {
				return grantError(err, svc.Config().MaxDownloads)
			}

			cmd.Println(assetURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Download token")
	return cmd
}

// grantError swaps redemption outcomes for the text customers see and keeps
// every other error as is.
func grantError(err error, maxDownloads int) error {
	for _, target := range []error{downloads.ErrThrottled, downloads.ErrExpired, downloads.ErrExhausted, downloads.ErrNotFound} {
		if errors.Is(err, target) {
			return errors.New(downloads.Message(err, maxDownloads))
		}
	}
	return err
}
