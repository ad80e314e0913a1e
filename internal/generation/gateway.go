// ABOUTME: Generation gateway with a total (never failing) text contract
// ABOUTME: Delegates to a Provider and degrades to templated fallback text on any failure

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// MaxHistory is the number of most recent turns sent with a request.
const MaxHistory = 10

// DefaultTimeout bounds a single provider call when Options.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// ErrEmptyCompletion is returned by providers that produced no text.
var ErrEmptyCompletion = errors.New("provider returned empty completion")

// Params are the per-persona generation settings.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Speaker roles used in history turns.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Turn is one entry of conversation history.
type Turn struct {
	Role    string // SpeakerUser or SpeakerAssistant
	Content string
}

// Request is everything a provider needs for one completion.
type Request struct {
	SystemPrompt string
	History      []Turn
	Params       Params

	// Persona names the speaking agent; only the fallback path uses it.
	Persona            string
	PersonaDescription string

	// JSON asks the provider to answer with a single JSON object.
	JSON bool
}

// LatestUserInput returns the content of the most recent user turn.
func (r *Request) LatestUserInput() string {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Role == SpeakerUser {
			return r.History[i].Content
		}
	}
	return ""
}

// Provider is a remote text-generation capability.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (string, error)
}

// Result is the outcome of a Generate call.
type Result struct {
	Text     string
	Provider string // empty when the fallback produced the text
	Degraded bool
	Err      error // provider error that triggered the fallback, if any
}

// Options configure a Gateway.
type Options struct {
	ForceFallback bool
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Gateway produces text through a provider with a local fallback.
type Gateway struct {
	provider      Provider
	forceFallback bool
	timeout       time.Duration
	logger        *slog.Logger
}

// New creates a Gateway. provider may be nil, in which case every call
// takes the fallback path.
func New(provider Provider, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		provider:      provider,
		forceFallback: opts.ForceFallback,
		timeout:       timeout,
		logger:        logger.With("component", "generation"),
	}
}

// ProviderName returns the configured provider name, or "none".
func (g *Gateway) ProviderName() string {
	if g.provider == nil {
		return "none"
	}
	return g.provider.Name()
}

// FallbackForced reports whether the gateway never calls the provider.
func (g *Gateway) FallbackForced() bool {
	return g.forceFallback
}

// Available reports whether calls will be attempted against a provider.
func (g *Gateway) Available() bool {
	return g.provider != nil && !g.forceFallback
}

// GenerateText returns the reply text for req. It never fails.
func (g *Gateway) GenerateText(ctx context.Context, req *Request) string {
	return g.Generate(ctx, req).Text
}

// Generate runs req against the provider, falling back to templated text
// when the provider is absent, disabled or fails.
func (g *Gateway) Generate(ctx context.Context, req *Request) Result {
	bounded := *req
	bounded.History = TrimHistory(req.History, MaxHistory)
	req = &bounded

	if !g.Available() {
		g.logger.Debug("using fallback generation",
			"provider", g.ProviderName(),
			"forced", g.forceFallback)
		return Result{Text: FallbackText(req), Degraded: true}
	}

	text, err := g.complete(ctx, req)
	if err != nil {
		g.logger.Warn("provider failed, using fallback",
			"provider", g.provider.Name(),
			"model", req.Params.Model,
			"error", err)
		return Result{Text: FallbackText(req), Degraded: true, Err: err}
	}

	return Result{Text: text, Provider: g.provider.Name()}
}

// complete calls the provider under the gateway timeout and converts a
// provider panic into an error.
func (g *Gateway) complete(ctx context.Context, req *Request) (text string, err error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	start := time.Now()
	text, err = g.provider.Complete(callCtx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCompletion
	}

	g.logger.Debug("provider completion",
		"provider", g.provider.Name(),
		"elapsed_ms", time.Since(start).Milliseconds(),
		"chars", len(text))
	return text, nil
}

// TrimHistory keeps the last max turns.
func TrimHistory(history []Turn, max int) []Turn {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

// FallbackText builds the deterministic degraded-mode reply for req.
func FallbackText(req *Request) string {
	input := strings.TrimSpace(req.LatestUserInput())

	persona := req.Persona
	if persona == "" {
		persona = "your assistant"
	}
	description := req.PersonaDescription
	if description == "" {
		description = "An AI assistant"
	}

	var b strings.Builder
	if input == "" {
		fmt.Fprintf(&b, "As %s, I received your request.", persona)
	} else {
		fmt.Fprintf(&b, "As %s, I understand you're asking about \"%s\".", persona, input)
		if terms := ExtractTerms(input); len(terms) > 0 {
			fmt.Fprintf(&b, " Key terms: %s.", strings.Join(terms, ", "))
		}
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s, designed to help with your questions.\n\n", description)
	b.WriteString("However, I'm currently operating in fallback mode with reduced capability. ")
	b.WriteString("I'd be happy to assist you further when full functionality is restored.")
	return b.String()
}
