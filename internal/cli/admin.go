package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

func newAdminCmd(rt *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	cmd.AddCommand(newAdminCreateCmd(rt))
	return cmd
}

func newAdminCreateCmd(rt *state) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		Long:  "Create an admin account. Without --password the password is read from the terminal.",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				pw, err := promptPassword(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				password = pw
			}
			a, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			acc, err := a.Accounts.CreateAdmin(cmd.Context(), name, email, password)
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", acc.ID, acc.Email)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func promptPassword(w io.Writer) (string, error) {
	_, _ = fmt.Fprint(w, "Password: ")
	first, err := readPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	_, _ = fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	pw := strings.TrimRight(string(first), "\r\n")
	if pw == "" {
		return "", errors.New("password is required")
	}
	return pw, nil
}
