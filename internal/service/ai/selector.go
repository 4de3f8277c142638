package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"portfoliochat/internal/chaterr"
	"portfoliochat/internal/config"
)

// Environment is the per-request view of the deployment.
type Environment struct {
	Production bool
	APIKey     string
}

// LookupEnvironment reads the production flag and credential through getenv.
// It is called on every request; nothing is cached.
func LookupEnvironment(cfg config.EnvironmentConfig, getenv func(string) string) Environment {
	return Environment{
		Production: strings.EqualFold(strings.TrimSpace(getenv(cfg.ProductionVar)), cfg.ProductionValue),
		APIKey:     strings.TrimSpace(getenv(cfg.APIKeyVar)),
	}
}

type RemoteFactory func(ctx context.Context, apiKey, modelName string) (model.BaseChatModel, error)

type LocalFactory func(ctx context.Context, modelName string) (model.BaseChatModel, error)

// Selector decides which backend serves a request.
type Selector struct {
	apiModel   string
	localModel string
	apiKeyVar  string
	cliPath    string
	newRemote  RemoteFactory
	newLocal   LocalFactory
}

// NewSelector builds a selector bound to the hosted Anthropic API and the local claude CLI.
func NewSelector(models config.ModelConfig, env config.EnvironmentConfig) *Selector {
	return NewSelectorWith(models, env, anthropicFactory(models), cliFactory(models.CLIPath))
}

// NewSelectorWith builds a selector with explicit provider factories.
func NewSelectorWith(models config.ModelConfig, env config.EnvironmentConfig, remote RemoteFactory, local LocalFactory) *Selector {
	return &Selector{
		apiModel:   models.APIModel,
		localModel: models.LocalModel,
		apiKeyVar:  env.APIKeyVar,
		cliPath:    models.CLIPath,
		newRemote:  remote,
		newLocal:   local,
	}
}

// Select returns a handle for env, or a configuration/authentication error.
func (s *Selector) Select(ctx context.Context, env Environment) (*ModelHandle, error) {
	if env.Production {
		if env.APIKey == "" {
			return nil, chaterr.Configuration(fmt.Sprintf(
				"%s environment variable is not set. Add it to the production deployment's environment to enable the chat.",
				s.apiKeyVar), nil)
		}
		chatModel, err := s.newRemote(ctx, env.APIKey, s.apiModel)
		if err != nil {
			return nil, chaterr.Configuration(fmt.Sprintf("could not configure the Anthropic client for model %s", s.apiModel), err)
		}
		return NewModelHandle(ProviderAnthropic, s.apiModel, chatModel), nil
	}

	chatModel, err := s.newLocal(ctx, s.localModel)
	if err != nil {
		return nil, chaterr.Authentication(s.loginHint(), err)
	}
	handle := NewModelHandle(ProviderClaudeCLI, s.localModel, chatModel)
	handle.loginHint = s.loginHint()
	return handle, nil
}

func (s *Selector) loginHint() string {
	return fmt.Sprintf(
		"the local %s CLI is unavailable or not authenticated. Install it and run '%s login', or set production mode with %s.",
		s.cliPath, s.cliPath, s.apiKeyVar)
}

func anthropicFactory(cfg config.ModelConfig) RemoteFactory {
	return func(ctx context.Context, apiKey, modelName string) (model.BaseChatModel, error) {
		var baseURLPtr *string
		if cfg.APIBaseURL != "" {
			baseURL := cfg.APIBaseURL
			baseURLPtr = &baseURL
		}
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return chatModel, nil
	}
}

func cliFactory(binary string) LocalFactory {
	return func(ctx context.Context, modelName string) (model.BaseChatModel, error) {
		cm, err := NewCLIChatModel(binary, modelName)
		if err != nil {
			return nil, err
		}
		return cm, nil
	}
}
