package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/config"
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/pkg/anthropic"
)

const bootstrapSystemPrompt = `The user provides a markdown text that represents a purchase order sent by a client company.
Identify the name of the client company that issued the order.
Respond only with the company name.`

const selectSystemPromptTmpl = `The user provides a markdown text that represents a purchase order.
Identify which client company the order belongs to, selecting from this list:

%s
Respond with a valid JSON object: {"client_number": <number>}.
If you cannot identify the client with confidence, or the client is not in the list, respond with {"client_number": -1}.`

// unknownClientSentinel is the index the model returns when no profile matches.
const unknownClientSentinel = -1

// Classifier matches a transcript to one of the owner's registered client
// profiles, or bootstraps a provisional profile when none are registered yet.
type Classifier struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// NewClassifier creates a Classifier.
func NewClassifier(client anthropic.Client, cfg config.AnthropicConfig) *Classifier {
	return &Classifier{client: client, cfg: cfg}
}

// Classify returns the matched profile. In bootstrap mode (the profile set
// is exactly the sentinel profile) the returned profile is provisional: it
// carries the issuing company's name extracted from the transcript and the
// sentinel's schema, and has not been persisted.
func (c *Classifier) Classify(ctx context.Context, transcript string, profiles []model.ClientProfile) (model.ClientProfile, error) {
	if len(profiles) == 0 {
		return model.ClientProfile{}, eris.New("classify: no client profiles registered")
	}

	if len(profiles) == 1 && profiles[0].Bootstrap() {
		return c.bootstrap(ctx, transcript, profiles[0])
	}
	return c.selectProfile(ctx, transcript, profiles)
}

func (c *Classifier) bootstrap(ctx context.Context, transcript string, sentinel model.ClientProfile) (model.ClientProfile, error) {
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.cfg.ClassifyModel,
		MaxTokens:   c.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(bootstrapSystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: transcript}},
		Temperature: anthropic.DeterministicTemperature(),
	})
	if err != nil {
		return model.ClientProfile{}, eris.Wrap(err, "classify: bootstrap company name")
	}
	resp.Usage.LogCost(c.cfg.ClassifyModel, "classify")

	name := strings.TrimSpace(resp.Text())
	if name == "" {
		return model.ClientProfile{}, eris.New("classify: empty company name from bootstrap")
	}

	// The provisional profile must not carry the sentinel's identity: a
	// cleared ID is what routes it through CreateProvisional, so the order
	// ends up owned by the new profile and the sentinel is never locked.
	provisional := sentinel
	provisional.ID = ""
	provisional.Name = name
	zap.L().Info("classify: bootstrapped provisional profile",
		zap.String("owner_id", sentinel.OwnerID),
		zap.String("company", name),
	)
	return provisional, nil
}

func (c *Classifier) selectProfile(ctx context.Context, transcript string, profiles []model.ClientProfile) (model.ClientProfile, error) {
	var list strings.Builder
	for i, p := range profiles {
		fmt.Fprintf(&list, "Number: %d\nName: %q\nClassifier: %q\n\n", i, p.Name, p.Classifier)
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.cfg.ClassifyModel,
		MaxTokens:   c.cfg.MaxTokens,
		System:      []anthropic.SystemBlock{{Text: fmt.Sprintf(selectSystemPromptTmpl, list.String())}},
		Messages:    []anthropic.Message{{Role: "user", Content: transcript}},
		Temperature: anthropic.DeterministicTemperature(),
	})
	if err != nil {
		return model.ClientProfile{}, eris.Wrap(err, "classify: select client")
	}
	resp.Usage.LogCost(c.cfg.ClassifyModel, "classify")

	var result struct {
		ClientNumber int `json:"client_number"`
	}
	cleaned := cleanJSONFromText(resp.Text())
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return model.ClientProfile{}, eris.Wrap(err, "classify: parse selection")
	}

	if result.ClientNumber == unknownClientSentinel ||
		result.ClientNumber < 0 || result.ClientNumber >= len(profiles) {
		return model.ClientProfile{}, &UnknownClientError{}
	}
	return profiles[result.ClientNumber], nil
}
