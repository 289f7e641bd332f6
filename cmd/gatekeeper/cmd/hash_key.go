package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/gatekeeper/internal/domain/auth"
)

var hashKeySHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Hash an API key for use in config",
	Long: `Hash an API key for the auth.api_keys.key_hash field.

The default output is an Argon2id PHC string ("$argon2id$..."). With --sha256 the
output is "sha256:<hex>", which is faster to look up but unsalted.

Example:
  gatekeeper hash-key "my-secret-api-key"
  gatekeeper hash-key --sha256 "my-secret-api-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  gatekeeper hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := hashAPIKey(args[0], hashKeySHA256)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeySHA256, "sha256", false, "output a sha256:<hex> hash instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}

func hashAPIKey(rawKey string, sha bool) (string, error) {
	if sha {
		return "sha256:" + auth.HashKey(rawKey), nil
	}
	hash, err := auth.HashKeyArgon2id(rawKey)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return hash, nil
}
