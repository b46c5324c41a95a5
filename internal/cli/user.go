package cli

import (
	"errors"
	"fmt"
	"os"

	"edulms/internal/auth"

	"github.com/spf13/cobra"
)

func newUserCmd(e *env) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts that may sign in to the import API",
	}

	var in auth.CreateUserInput
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user with a password",
		Long: `Create a user. The password is read from --password or, when that is
empty, from the QIMPORT_PASSWORD environment variable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = os.Getenv("QIMPORT_PASSWORD")
			}
			u, err := e.users.CreateUser(cmd.Context(), in)
			switch {
			case errors.Is(err, auth.ErrInvalidInput):
				return fmt.Errorf("create user: username is required, password needs 8+ characters and role must be admin, proktor, guru or siswa")
			case err != nil:
				return fmt.Errorf("create user: %w", err)
			}
			if e.asJSON {
				return e.printJSON(cmd.OutOrStdout(), u)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d, role %s)\n", u.Username, u.ID, u.Role)
			return nil
		},
	}
	createCmd.Flags().StringVar(&in.Username, "username", "", "login name")
	createCmd.Flags().StringVar(&in.FullName, "full-name", "", "display name")
	createCmd.Flags().StringVar(&in.Role, "role", "guru", "admin, proktor, guru or siswa")
	createCmd.Flags().StringVar(&in.Password, "password", "", "password (prefer QIMPORT_PASSWORD)")
	_ = createCmd.MarkFlagRequired("username")

	userCmd.AddCommand(createCmd)
	return userCmd
}
