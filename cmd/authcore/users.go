package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zenithlabs/authcore/store/sqlite"
)

func newBootstrapAdminCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the administrator account if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			generated, created, err := s.engine.EnsureAdmin(cmd.Context())
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintln(a.stdout, "administrator already exists")
				return nil
			}
			cfg := s.engine.Config()
			fmt.Fprintf(a.stdout, "created administrator %q\n", cfg.Account.AdminUsername)
			fmt.Fprintf(a.stdout, "password: %s\n", generated)
			fmt.Fprintln(a.stdout, "this password is shown once and must be changed on first login")
			return nil
		},
	}
}

func newUnlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <user>",
		Short: "Clear failed login attempts and any lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			id, err := resolveUserID(cmd.Context(), s.engine, args[0])
			if err != nil {
				return err
			}
			if err := s.engine.UnlockAccount(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "unlocked %s\n", args[0])
			return nil
		},
	}
}

func newSetActiveCmd(a *app, use string, active bool) *cobra.Command {
	short := "Deactivate an account and revoke its sessions"
	if active {
		short = "Reactivate an account"
	}
	return &cobra.Command{
		Use:   use + " <user>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			id, err := resolveUserID(cmd.Context(), s.engine, args[0])
			if err != nil {
				return err
			}
			if active {
				err = s.engine.EnableAccount(cmd.Context(), id)
			} else {
				err = s.engine.DisableAccount(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%sd %s\n", use, args[0])
			return nil
		},
	}
}

func newListUsersCmd(a *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list-users",
		Short: "List accounts with their lockout and password state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			users, err := s.engine.ListUsers(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tROLE\tACTIVE\tFAILED\tLOCKED UNTIL\tMUST CHANGE")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\t%t\n",
					u.ID, u.Username, u.Email, u.Role, u.IsActive,
					u.FailedLoginAttempts, formatOptional(u.LockedUntil), u.MustChangePassword)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var q sqlite.AuditQuery
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			if q.UserID != "" {
				if q.UserID, err = resolveUserID(cmd.Context(), s.engine, q.UserID); err != nil {
					return err
				}
			}
			events, err := s.store.ListAuditEvents(cmd.Context(), q)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tEVENT\tUSER\tIP\tSUCCESS\tERROR")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
					ev.Timestamp.UTC().Format(time.RFC3339), ev.EventType, ev.UserID,
					ev.IPAddress, ev.Success, ev.ErrorMessage)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&q.UserID, "user", "", "only events for this user id, username or email")
	cmd.Flags().StringVar(&q.EventType, "type", "", "only events of this type, e.g. login_failure")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "maximum events")
	return cmd
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
