// Package generation turns a prompt plus recent history into text.
//
// # Gateway
//
// The Gateway wraps an optional Provider (a remote language model) and
// guarantees a reply on every call:
//
//	gw := generation.New(provider, generation.Options{Timeout: 30 * time.Second})
//	res := gw.Generate(ctx, &generation.Request{...})
//
// When no provider is configured, when fallback is forced, or when the
// provider fails, times out, panics or returns nothing, the Gateway answers
// with a deterministic templated reply that restates the key terms of the
// user's input and says the system is running with reduced capability.
// Result.Degraded reports which path produced the text.
//
// # Structured completions
//
// GenerateStructured asks the provider for a JSON object and decodes it
// into a caller-chosen type. Malformed output is repaired by re-parsing the
// outermost {...} span; if that also fails the canned FallbackPayload is
// decoded instead. Neither entry point returns an error.
//
// # Providers
//
// OpenAIProvider, AnthropicProvider and GeminiProvider adapt the vendor SDKs
// to the Provider interface. Provider-specific knobs (base URLs, default
// models, JSON modes) stay inside the adapters.
package generation
