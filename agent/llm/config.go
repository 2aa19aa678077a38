package llm

import (
	"errors"
	"strings"
	"time"
)

// Config binds the LLM_* environment. The default model applies to every
// role; per-role model and temperature overrides are optional.
type Config struct {
	BaseURL     string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	APIKey      string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model       string        `envconfig:"MODEL" split_words:"true" default:"gpt-4o-mini"`
	Temperature float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`

	OrchestratorModel string `envconfig:"ORCHESTRATOR_MODEL" split_words:"true"`
	OrderModel        string `envconfig:"ORDER_MODEL" split_words:"true"`
	GeneralInfoModel  string `envconfig:"GENERAL_INFO_MODEL" split_words:"true"`

	MaxTokensOrchestrator int `envconfig:"MAX_TOKENS_ORCHESTRATOR" split_words:"true" default:"1024"`
	MaxTokensHandler      int `envconfig:"MAX_TOKENS_HANDLER" split_words:"true" default:"2048"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("llm api key is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("llm default model is required")
	}
	return nil
}

// ModelFor resolves the model name for a role, falling back to the default.
func (c Config) ModelFor(role string) string {
	var override string
	switch role {
	case "orchestrator":
		override = c.OrchestratorModel
	case "order":
		override = c.OrderModel
	case "general_info":
		override = c.GeneralInfoModel
	}
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return strings.TrimSpace(c.Model)
}
