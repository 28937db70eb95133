package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	openrouterx "github.com/fitlabs/respond-agent/pkg/openrouter"
)

// Role selects which model a pipeline capability uses.
type Role string

const (
	RoleGenerator Role = "generator"
	RoleHumanizer Role = "humanizer"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	HumanizerModel       string  `envconfig:"HUMANIZER_MODEL" split_words:"true"`
	HumanizerTemperature float32 `envconfig:"HUMANIZER_TEMPERATURE" split_words:"true" default:"-1"`

	MaxToolDepth     int    `envconfig:"MAX_TOOL_DEPTH" split_words:"true" default:"5"`
	FallbackResponse string `envconfig:"FALLBACK_RESPONSE" split_words:"true" default:"Sorry, I could not put together an answer right now. A team member will get back to you shortly."`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if c.MaxToolDepth <= 0 {
		return fmt.Errorf("%w: max tool depth must be positive", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	if role == RoleHumanizer {
		if v := strings.TrimSpace(c.HumanizerModel); v != "" {
			modelName = v
		}
		if c.HumanizerTemperature >= 0 {
			temp = c.HumanizerTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
