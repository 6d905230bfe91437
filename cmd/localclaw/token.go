package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/app"
	"github.com/nhle/localclaw/internal/credential"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/source"
)

var tokenValue string

// tokenCmd manages cached channel credentials.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage cached channel credentials",
	Long: `Store or forget the credential a channel uses. Credentials live in the
system keyring, or in an encrypted file when no keyring is available.`,
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <channel>",
	Short: "Validate and store a channel credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenSet,
}

var tokenResetCmd = &cobra.Command{
	Use:   "reset <channel>",
	Short: "Forget a channel credential so it is asked for again",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenReset,
}

func init() {
	tokenSetCmd.Flags().StringVar(&tokenValue, "value", "", "Credential value (prompted when omitted)")
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenResetCmd)
}

// channelCredentials loads the configuration and returns the channel and
// its credential manager.
func channelCredentials(id string) (model.ChannelConfig, *credential.Manager, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return model.ChannelConfig{}, nil, err
	}

	var ch *model.ChannelConfig
	for i := range cfg.Channels {
		if cfg.Channels[i].ID == id {
			ch = &cfg.Channels[i]
			break
		}
	}
	if ch == nil {
		return model.ChannelConfig{}, nil, fmt.Errorf("no channel %q in %s", id, configPath)
	}

	secrets, err := credential.OpenKeyring(cfg.Credentials.FileDir)
	if err != nil {
		return model.ChannelConfig{}, nil, err
	}
	m, err := app.CredentialManager(*ch, secrets, zap.NewNop())
	if err != nil {
		return model.ChannelConfig{}, nil, err
	}
	return *ch, m, nil
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	ch, m, err := channelCredentials(args[0])
	if err != nil {
		return err
	}

	token := strings.TrimSpace(tokenValue)
	if token == "" {
		token, err = credential.PromptAcquirer{Label: "credential"}.Acquire(cmd.Context(), ch.ID, ch.Account)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	switch err := m.Validate(ctx, token); {
	case source.IsAuthError(err):
		return fmt.Errorf("credential rejected by %s: %w", ch.ID, err)
	case err != nil:
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not verify credential, storing anyway: %v\n", err)
	}

	if err := m.Store(ch.Account, token); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stored credential for %s (%s)\n", ch.ID, ch.Account)
	return nil
}

func runTokenReset(cmd *cobra.Command, args []string) error {
	ch, m, err := channelCredentials(args[0])
	if err != nil {
		return err
	}
	if err := m.Reset(ch.Account); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot credential for %s (%s)\n", ch.ID, ch.Account)
	return nil
}
