package moderation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/advent259141/Astrbook/metrics"
)

const (
	tokensPerItem = 150
	probeTokens   = 200

	defaultClassifierTimeout = 30 * time.Second
)

// ErrMalformedReply is returned when the classifier answered with something
// other than a JSON array of verdicts.
var ErrMalformedReply = errors.New("moderation: malformed classifier reply")

// Item is one numbered piece of content in a batch.
type Item struct {
	ID      int
	Content string
}

// Verdict is the decision for one item. Err is set when the item passed only
// because classification failed.
type Verdict struct {
	Passed   bool
	Category string
	Reason   string
	Err      error
}

// Classifier judges a batch of items in a single request. On failure it
// returns the error together with all-pass verdicts.
type Classifier interface {
	ClassifyBatch(ctx context.Context, s Settings, items []Item) ([]Verdict, error)
}

// OpenAIClassifier talks to any OpenAI compatible chat completions endpoint.
type OpenAIClassifier struct {
	httpClient *http.Client
}

// NewOpenAIClassifier returns a classifier whose requests give up after timeout.
func NewOpenAIClassifier(timeout time.Duration) *OpenAIClassifier {
	if timeout <= 0 {
		timeout = defaultClassifierTimeout
	}
	return &OpenAIClassifier{httpClient: &http.Client{Timeout: timeout}}
}

func (c *OpenAIClassifier) client(apiBase, apiKey string) openai.Client {
	return openai.NewClient(
		option.WithBaseURL(strings.TrimRight(apiBase, "/")+"/"),
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	)
}

// BuildPrompt renders items as "[id] content" lines into the template.
func BuildPrompt(template string, items []Item) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("[%d] %s", it.ID, it.Content)
	}
	return strings.ReplaceAll(template, PromptPlaceholder, strings.Join(lines, "\n"))
}

// ClassifyBatch sends all items in one chat completion.
func (c *OpenAIClassifier) ClassifyBatch(ctx context.Context, s Settings, items []Item) ([]Verdict, error) {
	if len(items) == 0 {
		return nil, nil
	}
	text, err := c.complete(ctx, s, BuildPrompt(s.Prompt, items), int64(tokensPerItem*len(items)))
	if err != nil {
		return passAll(len(items)), err
	}
	res := ParseBatchReply(text, len(items))
	if res.Outcome == Malformed {
		return res.Verdicts, fmt.Errorf("%w: %s", ErrMalformedReply, preview(text, 200))
	}
	return res.Verdicts, nil
}

func (c *OpenAIClassifier) complete(ctx context.Context, s Settings, prompt string, maxTokens int64) (string, error) {
	cli := c.client(s.APIBase, s.APIKey)
	start := time.Now()
	resp, err := cli.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       s.Model,
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(maxTokens),
	})
	if err != nil {
		metrics.ObserveClassifierCall(s.Model, start, 0, 0, err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	metrics.ObserveClassifierCall(s.Model, start, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil)
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedReply)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ListModels returns the sorted model ids the endpoint offers.
func (c *OpenAIClassifier) ListModels(ctx context.Context, apiBase, apiKey string) ([]string, error) {
	cli := c.client(apiBase, apiKey)
	page, err := cli.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ProbeResult is the outcome of a manual classifier test.
type ProbeResult struct {
	Raw     string        `json:"raw_response"`
	Parsed  []interface{} `json:"parsed"`
	Warning string        `json:"warning,omitempty"`
}

// Probe substitutes content verbatim into the prompt and returns the raw reply.
func (c *OpenAIClassifier) Probe(ctx context.Context, s Settings, content string) (*ProbeResult, error) {
	prompt := strings.ReplaceAll(s.Prompt, PromptPlaceholder, content)
	text, err := c.complete(ctx, s, prompt, probeTokens)
	if err != nil {
		return nil, err
	}
	out := &ProbeResult{Raw: text}
	if arr, ok := decodeArray(stripFence(text)); ok {
		out.Parsed = arr
	} else {
		out.Warning = "reply is not a JSON array"
	}
	return out, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
