// ABOUTME: Tests for the generation gateway
// ABOUTME: Verifies provider delegation, fallback on every failure mode, and history bounds

package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// genai links in opencensus, whose init starts a view worker.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeProvider implements Provider for testing
type fakeProvider struct {
	reply   string
	err     error
	panics  bool
	block   bool
	lastReq *Request
	calls   int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req *Request) (string, error) {
	f.calls++
	f.lastReq = req
	if f.panics {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func userRequest(content string) *Request {
	return &Request{
		SystemPrompt:       "system",
		History:            []Turn{{Role: SpeakerUser, Content: content}},
		Params:             Params{Model: "m", Temperature: 0.3, MaxTokens: 100},
		Persona:            "planner",
		PersonaDescription: "Strategic planning and organization specialist",
	}
}

func TestGenerate_UsesProvider(t *testing.T) {
	p := &fakeProvider{reply: "Paris."}
	gw := New(p, Options{})

	res := gw.Generate(context.Background(), userRequest("What is the capital of France?"))

	assert.Equal(t, "Paris.", res.Text)
	assert.False(t, res.Degraded)
	assert.Equal(t, "fake", res.Provider)
	assert.NoError(t, res.Err)
	require.NotNil(t, p.lastReq)
	assert.Equal(t, "system", p.lastReq.SystemPrompt)
	assert.Equal(t, 0.3, p.lastReq.Params.Temperature)
}

func TestGenerate_FallbackPaths(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		opts     Options
		wantErr  bool
	}{
		{name: "no provider", provider: nil},
		{name: "forced", provider: &fakeProvider{reply: "ignored"}, opts: Options{ForceFallback: true}},
		{name: "provider error", provider: &fakeProvider{err: errors.New("401 unauthorized")}, wantErr: true},
		{name: "empty completion", provider: &fakeProvider{reply: "   "}, wantErr: true},
		{name: "provider panic", provider: &fakeProvider{panics: true}, wantErr: true},
		{name: "timeout", provider: &fakeProvider{block: true}, opts: Options{Timeout: 20 * time.Millisecond}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := New(tt.provider, tt.opts)
			res := gw.Generate(context.Background(), userRequest("What is the capital of France?"))

			assert.True(t, res.Degraded)
			assert.Empty(t, res.Provider)
			assert.NotEmpty(t, res.Text)
			lower := strings.ToLower(res.Text)
			assert.Contains(t, lower, "capital")
			assert.Contains(t, lower, "france")
			assert.Contains(t, lower, "fallback mode")
			if tt.wantErr {
				assert.Error(t, res.Err)
			} else {
				assert.NoError(t, res.Err)
			}
		})
	}
}

func TestGenerate_ForcedFallbackSkipsProvider(t *testing.T) {
	p := &fakeProvider{reply: "x"}
	gw := New(p, Options{ForceFallback: true})

	gw.GenerateText(context.Background(), userRequest("hello there"))

	assert.Zero(t, p.calls)
	assert.False(t, gw.Available())
	assert.True(t, gw.FallbackForced())
}

func TestGenerate_TrimsHistoryWithoutMutatingCaller(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	gw := New(p, Options{})

	history := make([]Turn, 15)
	for i := range history {
		history[i] = Turn{Role: SpeakerUser, Content: strings.Repeat("x", i+1)}
	}
	req := &Request{History: history}

	gw.Generate(context.Background(), req)

	require.Len(t, p.lastReq.History, MaxHistory)
	assert.Equal(t, history[5], p.lastReq.History[0])
	assert.Equal(t, history[14], p.lastReq.History[9])
	assert.Len(t, req.History, 15)
}

func TestProviderName(t *testing.T) {
	assert.Equal(t, "none", New(nil, Options{}).ProviderName())
	assert.Equal(t, "fake", New(&fakeProvider{}, Options{}).ProviderName())
}

func TestFallbackText(t *testing.T) {
	t.Run("echoes latest user input", func(t *testing.T) {
		req := &Request{
			Persona: "teacher",
			History: []Turn{
				{Role: SpeakerUser, Content: "first question"},
				{Role: SpeakerAssistant, Content: "answer"},
				{Role: SpeakerUser, Content: "Explain photosynthesis simply"},
			},
		}
		text := FallbackText(req)
		assert.Contains(t, text, "As teacher")
		assert.Contains(t, text, `"Explain photosynthesis simply"`)
		assert.Contains(t, text, "explain, photosynthesis, simply")
		assert.NotContains(t, text, "first question")
	})

	t.Run("input is echoed verbatim", func(t *testing.T) {
		text := FallbackText(userRequest("Say \"hi\"\nthen stop"))
		assert.Contains(t, text, "asking about \"Say \"hi\"\nthen stop\".")
		assert.NotContains(t, text, `\"`)
		assert.NotContains(t, text, `\n`)
	})

	t.Run("deterministic", func(t *testing.T) {
		req := userRequest("same input")
		assert.Equal(t, FallbackText(req), FallbackText(req))
	})

	t.Run("no input", func(t *testing.T) {
		text := FallbackText(&Request{})
		assert.Contains(t, text, "received your request")
		assert.Contains(t, text, "fallback mode")
	})
}

func TestLatestUserInput(t *testing.T) {
	req := &Request{History: []Turn{
		{Role: SpeakerUser, Content: "a"},
		{Role: SpeakerAssistant, Content: "b"},
	}}
	assert.Equal(t, "a", req.LatestUserInput())
	assert.Equal(t, "", (&Request{}).LatestUserInput())
}

func TestTrimHistory(t *testing.T) {
	h := []Turn{{Content: "1"}, {Content: "2"}, {Content: "3"}}
	assert.Equal(t, h, TrimHistory(h, 5))
	assert.Equal(t, h[1:], TrimHistory(h, 2))
	assert.Equal(t, h, TrimHistory(h, 0))
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, "", ProviderConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewProvider(ctx, ProviderNone, ProviderConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewProvider(ctx, ProviderOpenAI, ProviderConfig{})
	require.NoError(t, err)
	assert.Nil(t, p, "missing key means unconfigured")

	p, err = NewProvider(ctx, ProviderOpenAI, ProviderConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = NewProvider(ctx, ProviderAnthropic, ProviderConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = NewProvider(ctx, "llama", ProviderConfig{APIKey: "k"})
	assert.Error(t, err)
}
