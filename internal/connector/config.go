package connector

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	derrors "github.com/driftline/driftline/internal/errors"
	"github.com/driftline/driftline/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config keys shared across connector types.
const (
	KeyBotToken         = "bot_token"         // Slack
	KeyIntegrationToken = "integration_token" // Notion
	KeyPersonalToken    = "personal_token"    // GitHub
	KeyRepositories     = "repositories"      // GitHub, comma-separated owner/name
	KeyAPIKey           = "api_key"           // Serper, Tavily
)

type slackConfig struct {
	BotToken string `validate:"required,startswith=xoxb-"`
}

type notionConfig struct {
	IntegrationToken string `validate:"required"`
}

type githubConfig struct {
	PersonalToken string   `validate:"required"`
	Repositories  []string `validate:"required,min=1,dive,contains=/"`
}

type apiKeyConfig struct {
	APIKey string `validate:"required"`
}

// ValidateConfig checks that cfg carries the required fields for the
// connector type. Returns a coded validation error naming the problem.
func ValidateConfig(connType store.ConnectorType, cfg map[string]string) error {
	var err error
	switch connType {
	case store.ConnectorTypeSlack:
		err = validate.Struct(slackConfig{BotToken: cfg[KeyBotToken]})
	case store.ConnectorTypeNotion:
		err = validate.Struct(notionConfig{IntegrationToken: cfg[KeyIntegrationToken]})
	case store.ConnectorTypeGitHub:
		err = validate.Struct(githubConfig{
			PersonalToken: cfg[KeyPersonalToken],
			Repositories:  splitRepositories(cfg[KeyRepositories]),
		})
	case store.ConnectorTypeSerperAPI, store.ConnectorTypeTavilyAPI:
		err = validate.Struct(apiKeyConfig{APIKey: cfg[KeyAPIKey]})
	default:
		return derrors.New(derrors.ErrCodeConnectorConfig,
			fmt.Sprintf("unknown connector type %q", connType), nil)
	}

	if err != nil {
		return derrors.New(derrors.ErrCodeConnectorConfig,
			fmt.Sprintf("invalid %s config: %v", connType, err), err)
	}
	return nil
}

// IsIndexable reports whether the connector type participates in
// incremental indexing. Web-search API connectors hold credentials for
// live queries only and are never indexed.
func IsIndexable(connType store.ConnectorType) bool {
	switch connType {
	case store.ConnectorTypeSlack, store.ConnectorTypeNotion, store.ConnectorTypeGitHub:
		return true
	default:
		return false
	}
}

func splitRepositories(raw string) []string {
	var repos []string
	for _, r := range strings.Split(raw, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			repos = append(repos, r)
		}
	}
	return repos
}
