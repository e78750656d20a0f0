package main

import (
	"errors"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/BradenHooton/sessionguard/internal/models"
)

// NewUnlockCmd creates the unlock subcommand.
func NewUnlockCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "unlock [user-id]",
		Short: "Lift a login lockout and reset the failure counter",
		Example: `  sessionguard unlock 0f8fad5b-d9cb-469f-a165-70867728950e
  sessionguard unlock --email ada@example.com`,
		Args: func(cmd *cobra.Command, args []string) error {
			return unlockArgs(email, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var userID string
			if len(args) == 1 {
				userID = args[0]
			} else {
				user, err := a.users.GetByEmail(ctx, email)
				if err != nil {
					if errors.Is(err, models.ErrNotFound) {
						return oops.Code("USER_NOT_FOUND").Errorf("no user with that email")
					}
					return err
				}
				userID = user.ID
			}

			if err := a.auth.Unlock(ctx, userID); err != nil {
				if models.KindOf(err) == models.KindNotFound {
					return oops.Code("USER_NOT_FOUND").With("user_id", userID).Errorf("user not found")
				}
				return err
			}
			cmd.Printf("Unlocked %s\n", userID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "look the user up by email instead of id")
	return cmd
}

// unlockArgs requires exactly one of a user id argument or --email
func unlockArgs(email string, args []string) error {
	switch {
	case len(args) > 1:
		return errors.New("expected at most one user id")
	case len(args) == 1 && email != "":
		return errors.New("pass a user id or --email, not both")
	case len(args) == 0 && email == "":
		return errors.New("a user id or --email is required")
	}
	return nil
}
