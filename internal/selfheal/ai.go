package selfheal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pulseforge/supervisor/internal/types"
)

const (
	defaultModel     = "claude-3-5-haiku-20241022"
	defaultBudget    = 60 * time.Second
	defaultRetries   = 3
	defaultBackoff   = 1 * time.Second
)

// AnthropicDecider asks a small, cheap model to classify a failed task's
// next action instead of applying StaticDecider's fixed rules. It is bounded
// to a short overall budget (spec.md §4.5) and falls back to StaticDecider
// on any error, timeout, or unparsable response -- self-heal must never
// block the pulse loop waiting on a model call.
type AnthropicDecider struct {
	client   anthropic.Client
	model    anthropic.Model
	tmpl     *template.Template
	budget   time.Duration
	retries  int
	backoff  time.Duration
	fallback Decider
}

// ErrAPIKeyRequired mirrors the teacher's compact package: self-heal is
// optional, callers decide whether to construct an AnthropicDecider at all.
var ErrAPIKeyRequired = errors.New("ANTHROPIC_API_KEY required for self-heal AI decider")

func NewAnthropicDecider(apiKey string) (*AnthropicDecider, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	tmpl, err := template.New("selfheal").Parse(decisionPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing self-heal prompt template: %w", err)
	}
	return &AnthropicDecider{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    defaultModel,
		tmpl:     tmpl,
		budget:   defaultBudget,
		retries:  defaultRetries,
		backoff:  defaultBackoff,
		fallback: StaticDecider{},
	}, nil
}

func (d *AnthropicDecider) Decide(ctx context.Context, t *types.Task, outcome types.OutcomeKind, failureKey string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, d.budget)
	defer cancel()

	prompt, err := d.renderPrompt(t, outcome, failureKey)
	if err != nil {
		return d.fallback.Decide(ctx, t, outcome, failureKey)
	}

	text, err := d.callWithRetry(ctx, prompt)
	if err != nil {
		return d.fallback.Decide(ctx, t, outcome, failureKey)
	}

	decision, ok := parseDecision(text)
	if !ok {
		return d.fallback.Decide(ctx, t, outcome, failureKey)
	}
	return decision, nil
}

func (d *AnthropicDecider) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     d.model,
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			backoff := d.backoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := d.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("empty response")
			}
			block := message.Content[0]
			if block.Type != "text" {
				return "", fmt.Errorf("unexpected response block type %s", block.Type)
			}
			return block.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable: %w", err)
		}
	}
	return "", fmt.Errorf("failed after %d retries: %w", d.retries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

type promptData struct {
	TaskID     string
	Repo       string
	Outcome    string
	FailureKey string
	Retries    int
	MaxRetries int
	Escalation int
	MaxEscalation int
}

func (d *AnthropicDecider) renderPrompt(t *types.Task, outcome types.OutcomeKind, failureKey string) (string, error) {
	var sb strings.Builder
	err := d.tmpl.Execute(&sb, promptData{
		TaskID: t.ID, Repo: t.Repo, Outcome: string(outcome), FailureKey: failureKey,
		Retries: t.Retries, MaxRetries: t.MaxRetries,
		Escalation: t.EscalationDepth, MaxEscalation: t.MaxEscalation,
	})
	return sb.String(), err
}

// parseDecision reads the model's one-line verdict, of the form
// "ACTION: reason text" where ACTION is one of the Action constants. A
// missing or unrecognized action is treated as unparsable.
func parseDecision(text string) (Decision, bool) {
	line := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return Decision{}, false
	}
	action := Action(strings.ToLower(strings.TrimSpace(parts[0])))
	reason := strings.TrimSpace(parts[1])
	switch action {
	case ActionRetry, ActionEscalate, ActionDiagnose, ActionBlock, ActionGiveUp:
		return Decision{Action: action, Reason: reason}, true
	default:
		return Decision{}, false
	}
}

const decisionPromptTemplate = `A supervised AI worker task failed. Decide the next action.

Task: {{.TaskID}} (repo {{.Repo}})
Outcome classification: {{.Outcome}}
Failure key: {{.FailureKey}}
Retries: {{.Retries}}/{{.MaxRetries}}
Escalation depth: {{.Escalation}}/{{.MaxEscalation}}

Reply with exactly one line: "ACTION: reason", where ACTION is one of
retry, escalate, diagnose, block, give_up.`
