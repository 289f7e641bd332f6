package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/gatekeeper/internal/adapter/outbound/jwt"
	"github.com/Sentinel-Gate/gatekeeper/internal/config"
)

var (
	tokenSubject  string
	tokenAudience string
	tokenTTL      time.Duration
	tokenClaims   []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a test JWT with the configured secret",
	Long: `Mint an HMAC-signed JWT using auth.jwt.secret (or auth.jwt.secret_file).

The token uses the first HS* entry of auth.jwt.algorithms (HS256 by default)
and the configured issuer. Only HMAC keys can sign; a public key setup must
mint tokens with its own issuer.

Examples:
  gatekeeper token --subject alice
  gatekeeper token --subject ci-bot --ttl 24h --claim role=admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		token, err := mintToken(&cfg.Auth.JWT, tokenSubject, tokenAudience, tokenTTL, tokenClaims)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (sub claim)")
	tokenCmd.Flags().StringVar(&tokenAudience, "audience", "", "aud claim (defaults to auth.jwt.audience)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().StringArrayVar(&tokenClaims, "claim", nil, "extra claim as key=value (repeatable)")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func mintToken(cfg *config.JWTConfig, subject, audience string, ttl time.Duration, rawClaims []string) (string, error) {
	secret, err := cfg.HMACSecret()
	if err != nil {
		return "", err
	}
	if secret == nil {
		return "", fmt.Errorf("token: auth.jwt is configured with a public key; an HMAC secret is required to sign")
	}

	extra, err := parseClaims(rawClaims)
	if err != nil {
		return "", err
	}
	if audience == "" {
		audience = cfg.Audience
	}

	alg := hmacAlgorithm(cfg.Algorithms)
	if alg == "" && len(cfg.Algorithms) > 0 {
		return "", fmt.Errorf("token: auth.jwt.algorithms %v has no HMAC algorithm to sign with", cfg.Algorithms)
	}

	signer, err := jwt.NewHMACSigner(secret, alg, cfg.Issuer)
	if err != nil {
		return "", err
	}
	return signer.Sign(subject, audience, ttl, extra)
}

// hmacAlgorithm returns the first HS* algorithm, or "" for the signer default.
func hmacAlgorithm(algs []string) string {
	for _, alg := range algs {
		if strings.HasPrefix(alg, "HS") {
			return alg
		}
	}
	return ""
}

func parseClaims(raw []string) (map[string]any, error) {
	claims := make(map[string]any, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --claim %q: expected key=value", kv)
		}
		switch k {
		case "sub", "iss", "aud", "exp", "iat", "nbf":
			return nil, fmt.Errorf("invalid --claim %q: %s is set by its own flag or config", kv, k)
		}
		claims[k] = v
	}
	return claims, nil
}
