package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newGenPasswordCmd(a *app) *cobra.Command {
	var length, count int
	cmd := &cobra.Command{
		Use:   "gen-password",
		Short: "Generate passwords that satisfy the configured policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return errors.New("count must be >= 1")
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			for i := 0; i < count; i++ {
				pw, err := s.engine.GeneratePassword(length)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, pw)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&length, "length", 0, "password length (0 uses the default)")
	cmd.Flags().IntVar(&count, "count", 1, "number of passwords")
	return cmd
}

func newCheckPasswordCmd(a *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "check-password <password>",
		Short: "Check a password against the configured policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			ok, violations := s.engine.ValidatePassword(args[0], username)
			fmt.Fprintf(a.stdout, "complexity: %d\n", s.engine.PasswordComplexity(args[0]))
			if ok {
				fmt.Fprintln(a.stdout, "ok")
				return nil
			}
			for _, v := range violations {
				fmt.Fprintf(a.stdout, "- %s\n", v)
			}
			return fmt.Errorf("password violates %d rule(s)", len(violations))
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "reject passwords containing this username")
	return cmd
}
