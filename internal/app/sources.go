package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/credential"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/source"
	"github.com/nhle/localclaw/internal/source/canvas"
	"github.com/nhle/localclaw/internal/source/email"
	"github.com/nhle/localclaw/internal/source/github"
	"github.com/nhle/localclaw/internal/source/guerrilla"
	"github.com/nhle/localclaw/internal/source/rest"
)

// ErrNoCredentials is returned for channel types that need no secret.
var ErrNoCredentials = errors.New("channel type does not use credentials")

// credentialLabel names the secret each channel type asks for.
func credentialLabel(kind model.ChannelType) string {
	switch kind {
	case model.ChannelTypeEmail:
		return "password"
	case model.ChannelTypeGitHub:
		return "personal access token"
	default:
		return "access token"
	}
}

// CredentialManager builds the credential manager for a configured
// channel. It never prompts: when neither the keyring nor the config file
// holds a token the channel stays unauthenticated and a warning names the
// command that stores one.
func CredentialManager(cfg model.ChannelConfig, secrets credential.SecretStore, logger *zap.Logger) (*credential.Manager, error) {
	kind := model.ChannelType(cfg.Type)

	var validate credential.Validator
	switch kind {
	case model.ChannelTypeEmail:
		validate = email.Validator(email.NewIMAPClient(cfg.ID, email.SettingsFromConfig(cfg)))
	case model.ChannelTypeGitHub:
		validate = github.Validator(github.NewAPIClient(cfg.ID, cfg.BaseURL))
	case model.ChannelTypeCanvas:
		validate = canvas.Validator(rest.NewClient(cfg.ID, cfg.BaseURL))
	case model.ChannelTypeGuerrilla:
		return nil, fmt.Errorf("channel %q: %w", cfg.ID, ErrNoCredentials)
	default:
		return nil, fmt.Errorf("channel %q: unknown type %q", cfg.ID, cfg.Type)
	}

	acquirer := credential.ChainAcquirer{
		credential.StaticAcquirer(cfg.Token),
		missingCredential(kind, logger),
	}
	return credential.NewManager(cfg.ID, secrets, acquirer,
		credential.WithValidator(validate),
		credential.WithLogger(logger),
	), nil
}

// missingCredential logs how to store a credential and reports none.
func missingCredential(kind model.ChannelType, logger *zap.Logger) credential.Acquirer {
	return credential.AcquirerFunc(func(_ context.Context, channel, account string) (string, error) {
		logger.Warn("no credential for channel; run `localclaw token set "+channel+"`",
			zap.String("channel", channel),
			zap.String("account", account),
			zap.String("secret", credentialLabel(kind)),
		)
		return "", credential.ErrNoCredential
	})
}

// newBackend creates the backend for one configured channel.
func newBackend(cfg model.ChannelConfig, secrets credential.SecretStore, logger *zap.Logger) (source.Backend, error) {
	kind := model.ChannelType(cfg.Type)
	if kind == model.ChannelTypeGuerrilla {
		return guerrilla.New(cfg, logger), nil
	}

	tokens, err := CredentialManager(cfg, secrets, logger)
	if err != nil {
		return nil, err
	}

	switch kind {
	case model.ChannelTypeEmail:
		return email.New(cfg, tokens, logger), nil
	case model.ChannelTypeGitHub:
		return github.New(cfg, github.NewAPIClient(cfg.ID, cfg.BaseURL), tokens, logger), nil
	default:
		return canvas.New(cfg, rest.NewClient(cfg.ID, cfg.BaseURL), tokens, logger), nil
	}
}

// channelTypes maps channel ids to their backend kind for prompt selection.
func channelTypes(channels []model.ChannelConfig) map[string]model.ChannelType {
	kinds := make(map[string]model.ChannelType, len(channels))
	for _, ch := range channels {
		kinds[ch.ID] = model.ChannelType(ch.Type)
	}
	return kinds
}
