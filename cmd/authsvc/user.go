package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"userauth/auth-service/internal/app"
	"userauth/auth-service/internal/auth"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users in the configured store",
	}
	cmd.AddCommand(newUserAddCmd(), newUserResetTokenCmd(), newUserVerifyCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var in auth.NewUser
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			core, err := app.OpenCore(cfg, logger)
			if err != nil {
				return err
			}
			defer core.Close()

			u, err := core.Service.CreateUser(in)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (required)")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserResetTokenCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-token",
		Short: "Issue a password reset token and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			core, err := app.OpenCore(cfg, logger)
			if err != nil {
				return err
			}
			defer core.Close()

			token, err := core.Service.RequestReset(email)
			if err != nil {
				return fmt.Errorf("issue reset token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address of the user (required)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUserVerifyCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a user's password without starting a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			core, err := app.OpenCore(cfg, logger)
			if err != nil {
				return err
			}
			defer core.Close()

			if !core.Service.ValidLogin(email, password) {
				return errors.New("invalid credentials")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "password to check (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
