package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowlabs/burrow/internal/auth"
	"github.com/burrowlabs/burrow/internal/config"
)

var (
	tokenSubject  string
	tokenActor    string
	tokenReadOnly bool
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a handshake token",
	Long: `Mint a signed handshake token for connecting to an actor.

The token is presented as ?token= on the WebSocket handshake. Tokens bound
to an actor name are rejected on other actors; tokens minted with
--read-only produce connections that cannot submit state updates.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "", "Token subject (required)")
	tokenCmd.Flags().StringVarP(&tokenActor, "actor", "a", "", "Restrict token to one actor name")
	tokenCmd.Flags().BoolVar(&tokenReadOnly, "read-only", false, "Mark connections read-only")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return err
	}

	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is not configured")
	}

	svc := auth.NewTokenService(cfg.Auth)
	token, err := svc.Issue(tokenSubject, tokenActor, tokenReadOnly, tokenTTL)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
