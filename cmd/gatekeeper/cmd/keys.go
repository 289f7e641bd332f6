package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/gatekeeper/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/gatekeeper/internal/config"
	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
)

// rawKeyPrefix marks generated keys so they are recognisable in logs and secret scanners.
const rawKeyPrefix = "gk_"

var keysDB string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys in the SQLite key store",
	Long: `Manage API keys stored in the SQLite database named by auth.api_key_db
(or --db). Keys are stored as Argon2id hashes; the raw key is printed once
by "keys create" and cannot be recovered.`,
}

// createKeyOptions are the inputs of "keys create".
type createKeyOptions struct {
	PrincipalID   string
	PrincipalName string
	Roles         []string
	Name          string
	ExpiresIn     time.Duration
}

var createOpts createKeyOptions

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key",
	Example: `  gatekeeper keys create --principal ci-bot --name ci --roles user
  gatekeeper keys create --principal alice --name laptop --expires 720h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeyStore(cmd.Context(), func(ctx context.Context, store *sqlite.AuthStore) error {
			rawKey, err := createKey(ctx, store, createOpts, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "API key %q created for %s.\n", createOpts.Name, createOpts.PrincipalID)
			fmt.Fprintf(out, "Store it now, it will not be shown again:\n\n  %s\n\n", rawKey)
			return nil
		})
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <name>",
	Short: "Revoke an API key by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeyStore(cmd.Context(), func(ctx context.Context, store *sqlite.AuthStore) error {
			if err := store.RevokeAPIKey(ctx, args[0]); err != nil {
				if errors.Is(err, auth.ErrKeyNotFound) {
					return fmt.Errorf("no API key named %q", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %q revoked.\n", args[0])
			return nil
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys (hashes are not shown)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeyStore(cmd.Context(), func(ctx context.Context, store *sqlite.AuthStore) error {
			keys, err := store.ListAPIKeys(ctx)
			if err != nil {
				return err
			}
			return writeKeyTable(cmd.OutOrStdout(), keys, time.Now())
		})
	},
}

func init() {
	keysCmd.PersistentFlags().StringVar(&keysDB, "db", "", "API key database path (default: auth.api_key_db)")

	keysCreateCmd.Flags().StringVar(&createOpts.PrincipalID, "principal", "", "principal ID the key authenticates as")
	keysCreateCmd.Flags().StringVar(&createOpts.PrincipalName, "principal-name", "", "principal display name (default: principal ID)")
	keysCreateCmd.Flags().StringSliceVar(&createOpts.Roles, "roles", []string{string(auth.RoleUser)}, "principal roles")
	keysCreateCmd.Flags().StringVar(&createOpts.Name, "name", "", "unique key name")
	keysCreateCmd.Flags().DurationVar(&createOpts.ExpiresIn, "expires", 0, "key lifetime (0 = never expires)")
	_ = keysCreateCmd.MarkFlagRequired("principal")
	_ = keysCreateCmd.MarkFlagRequired("name")

	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd, keysListCmd)
	rootCmd.AddCommand(keysCmd)
}

// withKeyStore opens the key database selected by --db or the config file and runs fn.
func withKeyStore(ctx context.Context, fn func(context.Context, *sqlite.AuthStore) error) error {
	path := keysDB
	if path == "" {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path = cfg.Auth.APIKeyDB
	}
	if path == "" {
		return errors.New("no API key database: set auth.api_key_db or pass --db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := sqlite.Open(ctx, path, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(ctx, store)
}

// createKey upserts the principal, stores an Argon2id hash of a fresh key and returns
// the raw key.
func createKey(ctx context.Context, store *sqlite.AuthStore, opts createKeyOptions, now time.Time) (string, error) {
	if opts.PrincipalID == "" || opts.Name == "" {
		return "", errors.New("principal and name are required")
	}
	roles := make([]auth.Role, 0, len(opts.Roles))
	for _, r := range opts.Roles {
		role := auth.Role(strings.TrimSpace(r))
		if !role.IsValid() {
			return "", fmt.Errorf("invalid role %q: must be admin, user or read-only", r)
		}
		roles = append(roles, role)
	}
	name := opts.PrincipalName
	if name == "" {
		name = opts.PrincipalID
	}
	if err := store.SavePrincipal(ctx, &auth.Principal{ID: opts.PrincipalID, Name: name, Roles: roles}); err != nil {
		return "", err
	}

	rawKey := generateRawKey()
	hash, err := auth.HashKeyArgon2id(rawKey)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}

	key := &auth.APIKey{
		Key:         hash,
		PrincipalID: opts.PrincipalID,
		Name:        opts.Name,
		CreatedAt:   now.UTC(),
	}
	if opts.ExpiresIn > 0 {
		expires := now.Add(opts.ExpiresIn).UTC()
		key.ExpiresAt = &expires
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return "", err
	}
	return rawKey, nil
}

// generateRawKey returns 256 bits of randomness from two v4 UUIDs.
func generateRawKey() string {
	return rawKeyPrefix + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

func writeKeyTable(w io.Writer, keys []*auth.APIKey, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPRINCIPAL\tCREATED\tEXPIRES\tSTATUS")
	for _, k := range keys {
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		status := "active"
		switch {
		case k.Revoked:
			status = "revoked"
		case k.ExpiredAt(now):
			status = "expired"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.Name, k.PrincipalID, k.CreatedAt.Format(time.RFC3339), expires, status)
	}
	return tw.Flush()
}
