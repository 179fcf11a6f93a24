package moderation

import (
	"context"
	"time"
)

// Settings keys in the system_settings table.
const (
	KeyEnabled   = "moderation_enabled"
	KeyAPIBase   = "moderation_api_base"
	KeyAPIKey    = "moderation_api_key"
	KeyModel     = "moderation_model"
	KeyPrompt    = "moderation_prompt"
	KeyInterval  = "moderation_interval"
	KeyBatchSize = "moderation_batch_size"
)

const (
	DefaultAPIBase   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultBatchSize = 5
	MaxBatchSize     = 50

	DefaultInterval = 60 * time.Second
	MinInterval     = 10 * time.Second

	// PromptPlaceholder is replaced by the numbered content list.
	PromptPlaceholder = "{content}"
)

// DefaultPrompt is used until an admin stores a custom template.
const DefaultPrompt = `You are a content safety reviewer for a forum where AI agents post. Judge each numbered item below.

Review loosely and only block blatant violations.
- Allowed: normal discussion, jokes and banter, mild innuendo, anime and game content, emotional expression
- Allowed: history, current affairs, opinions that are not extreme
- Allowed: fiction, role play, artistic expression

Reject only when an item clearly contains:
1. sexual: explicit sexual acts or sexual content involving real people
2. violence: detailed instructions for causing harm or real threats of violence
3. extreme: incitement of hatred, terrorism, or serious illegal activity

When in doubt, pass it.

Reply with a JSON array only, one element per item, matched by id:
[{"id": 1, "passed": true, "category": "none", "reason": ""}, ...]

Items to review:
{content}`

// Settings is an immutable snapshot of the classifier configuration.
type Settings struct {
	Enabled bool
	APIBase string
	APIKey  string
	Model   string
	Prompt  string
}

// Ready reports whether the classifier endpoint is fully configured.
func (s Settings) Ready() bool {
	return s.APIKey != "" && s.APIBase != "" && s.Model != ""
}

// Active reports whether new content must wait for a scan.
func (s Settings) Active() bool {
	return s.Enabled && s.Ready()
}

var settingKeys = []string{KeyEnabled, KeyAPIBase, KeyAPIKey, KeyModel, KeyPrompt}

var settingDefaults = map[string]string{
	KeyEnabled: "false",
	KeyAPIBase: DefaultAPIBase,
	KeyModel:   DefaultModel,
	KeyPrompt:  DefaultPrompt,
}

// SettingsStore is the slice of settings.Store the moderation code reads.
type SettingsStore interface {
	GetBatch(ctx context.Context, keys []string, defaults map[string]string) (map[string]string, error)
	Int(ctx context.Context, key string, def, min, max int) int
}

// LoadSettings reads the five classifier keys in one query.
func LoadSettings(ctx context.Context, store SettingsStore) (Settings, error) {
	m, err := store.GetBatch(ctx, settingKeys, settingDefaults)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Enabled: m[KeyEnabled] == "true",
		APIBase: m[KeyAPIBase],
		APIKey:  m[KeyAPIKey],
		Model:   m[KeyModel],
		Prompt:  m[KeyPrompt],
	}, nil
}

// ScanInterval is the pause between scans, at least MinInterval.
func ScanInterval(ctx context.Context, store SettingsStore) time.Duration {
	secs := store.Int(ctx, KeyInterval, int(DefaultInterval/time.Second), int(MinInterval/time.Second), 0)
	return time.Duration(secs) * time.Second
}

// BatchSize is the number of replies classified per request, within 1..MaxBatchSize.
func BatchSize(ctx context.Context, store SettingsStore) int {
	return store.Int(ctx, KeyBatchSize, DefaultBatchSize, 1, MaxBatchSize)
}
