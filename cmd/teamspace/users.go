package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/ethpandaops/teamspace/pkg/auth/password"
	"github.com/spf13/cobra"
)

var (
	userPassword     string
	userRole         string
	userContactEmail string
)

// The users commands operate on the database directly. They are the only
// way to change the reserved admin credential besides the seed password.
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage local credentials",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, s store.Store) error {
			creds, err := s.ListCredentials(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tROLE\tCONTACT\tID")

			for _, c := range creds {
				contact := ""
				if c.ContactEmail != nil {
					contact = *c.ContactEmail
				}

				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Username, c.Role, contact, c.ID)
			}

			return tw.Flush()
		})
	},
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a local credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := strings.TrimSpace(args[0])
		if strings.EqualFold(username, auth.ReservedAdminUsername) {
			return fmt.Errorf("%q is reserved, use reset-password to manage it",
				auth.ReservedAdminUsername)
		}

		role := auth.Role(userRole)
		if role != auth.RoleAdmin && role != auth.RoleMember {
			return fmt.Errorf("role must be %q or %q", auth.RoleAdmin, auth.RoleMember)
		}

		pw, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}

		hashed, err := password.Hash(pw, nil)
		if err != nil {
			return err
		}

		cred := &store.LocalCredential{
			Username:     username,
			PasswordHash: hashed.Hash,
			Salt:         hashed.Salt,
			Role:         string(role),
		}

		if email := strings.TrimSpace(userContactEmail); email != "" {
			cred.ContactEmail = &email
		}

		return withStore(cmd, func(ctx context.Context, s store.Store) error {
			if err := s.CreateCredential(ctx, cred); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return fmt.Errorf("user %q already exists", username)
				}

				return err
			}

			log.WithField("username", username).Info("Created local credential")

			return nil
		})
	},
}

var usersResetPasswordCmd = &cobra.Command{
	Use:   "reset-password <username>",
	Short: "Set a new password for a local credential, including admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}

		hashed, err := password.Hash(pw, nil)
		if err != nil {
			return err
		}

		return withStore(cmd, func(ctx context.Context, s store.Store) error {
			cred, err := lookupCredential(ctx, s, args[0])
			if err != nil {
				return err
			}

			cred.PasswordHash = hashed.Hash
			cred.Salt = hashed.Salt

			if err := s.UpdateCredential(ctx, cred); err != nil {
				return err
			}

			log.WithField("username", cred.Username).Info("Password reset")

			return nil
		})
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a local credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == auth.ReservedAdminUsername {
			return fmt.Errorf("the %q credential cannot be deleted", auth.ReservedAdminUsername)
		}

		return withStore(cmd, func(ctx context.Context, s store.Store) error {
			cred, err := lookupCredential(ctx, s, args[0])
			if err != nil {
				return err
			}

			if err := s.DeleteCredential(ctx, cred.ID); err != nil {
				return err
			}

			log.WithField("username", cred.Username).Info("Deleted local credential")

			return nil
		})
	},
}

func init() {
	usersCmd.PersistentFlags().StringVar(&userPassword, "password", "",
		"password (read from stdin when empty)")

	usersCreateCmd.Flags().StringVar(&userRole, "role", string(auth.RoleMember),
		"role (admin or member)")
	usersCreateCmd.Flags().StringVar(&userContactEmail, "contact-email", "",
		"contact email used to label the user's identity")

	usersCmd.AddCommand(usersListCmd, usersCreateCmd, usersResetPasswordCmd, usersDeleteCmd)
	rootCmd.AddCommand(usersCmd)
}

// withStore opens the configured database for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s store.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s := store.NewStore(log, &cfg.API.Database)
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := s.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	return fn(ctx, s)
}

func lookupCredential(ctx context.Context, s store.Store, username string) (*store.LocalCredential, error) {
	cred, err := s.GetCredentialByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %q does not exist", username)
	}

	return cred, err
}

// readPassword returns --password or the first line of r.
func readPassword(r io.Reader) (string, error) {
	if userPassword != "" {
		return userPassword, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password must not be empty")
	}

	return pw, nil
}
