package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"flywheel/internal/coverage"
	"flywheel/internal/logging"
)

func newAuthCommand(ctx *commandContext) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the coverage report service",
	}

	authCmd.AddCommand(newAuthLoginCommand(ctx))
	authCmd.AddCommand(newAuthLogoutCommand(ctx))
	authCmd.AddCommand(newAuthStatusCommand(ctx))
	authCmd.AddCommand(newAuthTokenCommand(ctx))

	return authCmd
}

func (c *commandContext) coverageClient() (*coverage.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client := coverage.New(cfg.Coverage, logging.NewNop())
	if client == nil {
		return nil, errors.New("coverage service is not configured (set coverage.enabled and coverage.base_url)")
	}
	return client, nil
}

func newAuthLoginCommand(ctx *commandContext) *cobra.Command {
	var tokenName string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in via the device authorization flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.coverageClient()
			if err != nil {
				return err
			}

			login, err := client.StartDeviceLogin(cmd.Context(), tokenName)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open %s and enter code %s\n", login.VerificationURI, login.UserCode)
			fmt.Fprintln(out, "Waiting for authorization...")

			token, err := client.WaitForToken(cmd.Context(), login)
			if err != nil {
				if errors.Is(err, coverage.ErrExpiredDeviceCode) {
					return errors.New("device code expired; run `flywheel auth login` again")
				}
				return err
			}
			if err := client.SaveToken(token); err != nil {
				return err
			}
			fmt.Fprintln(out, "Logged in to the coverage service")
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenName, "token-name", "flywheel", "Name recorded for the issued token")
	return cmd
}

func newAuthLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored coverage service token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.coverageClient()
			if err != nil {
				return err
			}
			if err := client.DeleteToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newAuthTokenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the stored coverage service token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.coverageClient()
			if err != nil {
				return err
			}
			token, err := client.Token()
			if err != nil {
				if errors.Is(err, coverage.ErrNotLoggedIn) {
					return errors.New("not logged in (run `flywheel auth login`)")
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newAuthStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show coverage service login state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.coverageClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := client.Token(); err != nil {
				if errors.Is(err, coverage.ErrNotLoggedIn) {
					fmt.Fprintln(out, "Not logged in (run `flywheel auth login`)")
					return nil
				}
				return err
			}
			fmt.Fprintln(out, "Logged in")
			return nil
		},
	}
}
