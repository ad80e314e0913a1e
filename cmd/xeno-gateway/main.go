// ABOUTME: Entry point for the xeno-gateway chat server
// ABOUTME: Serves the orchestrator and provides init, token, and health commands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/xeno-gateway/internal/auth"
	"github.com/2389/xeno-gateway/internal/config"
	"github.com/2389/xeno-gateway/internal/gateway"
	"github.com/2389/xeno-gateway/internal/generation"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
__  _____ _ __   ___         __ _  __ _| |_ _____      ____ _ _   _
\ \/ / _ \ '_ \ / _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 >  <  __/ | | | (_) |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
/_/\_\___|_| |_|\___/       \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                            |___/                             |___/
`

// defaultTokenTTL is how long tokens from the token command last.
const defaultTokenTTL = 30 * 24 * time.Hour

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: xeno-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the gateway server")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  token --user ID        Issue a JWT for a user (creates a config with a secret if none exists)")
	fmt.Println("  health                 Check gateway liveness")
	fmt.Println("  ready                  Check gateway readiness")
	fmt.Println("  version                Print the version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("  %-24s Config file path (default %s)\n", config.EnvConfigPath, config.DefaultPath())
	fmt.Printf("  %-24s Override database.path\n", config.EnvDatabasePath)
	fmt.Printf("  %-24s Force the fallback reply path (true/false)\n", config.EnvForceFallback)
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Provider:  %s", cfg.Generation.Provider)
	if cfg.Generation.ForceFallback {
		yellow.Print(" [fallback forced]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	if cfg.Database.Path == "" {
		fmt.Print("Database:  ")
		yellow.Println("disabled")
	} else {
		fmt.Printf("Database:  %s\n", cfg.Database.Path)
	}
	green.Print("    ▶ ")
	fmt.Print("Auth:      ")
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("anonymous")
	} else {
		fmt.Println("jwt")
	}
	fmt.Println()

	logger.Info("starting xeno-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runProbe calls a health endpoint of the configured gateway and prints
// the response body.
func runProbe(ctx context.Context, path string) error {
	cfg, err := config.LoadOrDefault(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	fmt.Println(strings.TrimSpace(string(body)))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateSecret returns a random base64 secret long enough for auth.jwt_secret.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// tokenArgs are the parsed flags of the token command.
type tokenArgs struct {
	user string
	ttl  time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value".
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: defaultTokenTTL}

	value := func(i *int, name string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var (
			ttlRaw string
			err    error
		)
		switch {
		case arg == "--user" || arg == "-u":
			out.user, err = value(&i, "--user")
		case strings.HasPrefix(arg, "--user="):
			out.user = strings.TrimPrefix(arg, "--user=")
		case arg == "--ttl":
			ttlRaw, err = value(&i, "--ttl")
		case strings.HasPrefix(arg, "--ttl="):
			ttlRaw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return out, fmt.Errorf("unknown flag: %s", arg)
		default:
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
		if err != nil {
			return out, err
		}
		if ttlRaw != "" {
			out.ttl, err = time.ParseDuration(ttlRaw)
			if err != nil || out.ttl <= 0 {
				return out, fmt.Errorf("invalid --ttl %q", ttlRaw)
			}
		}
	}

	out.user = strings.TrimSpace(out.user)
	if out.user == "" {
		return out, errors.New("--user flag is required")
	}
	if len(out.user) > 100 {
		return out, errors.New("user id exceeds maximum length of 100 characters")
	}
	return out, nil
}

// runToken issues a JWT for a user. Without a config file it first writes
// one with a fresh secret.
func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	configPath := config.DefaultPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	cfg, err := config.Load(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
		if cfg.Auth.JWTSecret, err = generateSecret(); err != nil {
			return err
		}
		if err := cfg.Write(configPath); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	case err != nil:
		return fmt.Errorf("loading config: %w", err)
	case cfg.Auth.JWTSecret == "":
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	default:
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	token, err := issueToken(cfg.Auth.JWTSecret, parsed.user, parsed.ttl)
	if err != nil {
		return err
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	fmt.Printf("  User:    %s\n", parsed.user)
	fmt.Printf("  Expires: %s\n", time.Now().Add(parsed.ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println()
	fmt.Println(token)
	return nil
}

func issueToken(secret, user string, ttl time.Duration) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

// runInit asks for the main settings and writes a config file.
func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("xeno-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	cfg := config.Default()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, "HTTP address", cfg.Server.HTTPAddr)
	if origins := prompt(reader, "Allowed browser origins (comma separated, empty for same-origin)", ""); origins != "" {
		for o := range strings.SplitSeq(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}

	fmt.Println("\n--- Database Configuration ---")
	cfg.Database.Path = prompt(reader, "SQLite database path (\"none\" disables history)", cfg.Database.Path)
	if strings.EqualFold(cfg.Database.Path, "none") {
		cfg.Database.Path = ""
	}

	fmt.Println("\n--- Generation ---")
	cfg.Generation.Provider = prompt(reader, "Provider (none/openai/anthropic/gemini)", cfg.Generation.Provider)
	if cfg.Generation.Provider != generation.ProviderNone {
		envVar := strings.ToUpper(cfg.Generation.Provider) + "_API_KEY"
		cfg.Generation.APIKey = prompt(reader, "API key", "${"+envVar+"}")
		cfg.Generation.Model = prompt(reader, "Model (empty for provider default)", "")
	}

	fmt.Println("\n--- Authentication ---")
	if yes(prompt(reader, "Require JWT auth?", "no")) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		cfg.Auth.JWTSecret = secret
	}

	fmt.Println("\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json/color)", cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Write(outputFile); err != nil {
		return err
	}

	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  xeno-gateway serve")
	if cfg.Auth.JWTSecret != "" {
		fmt.Println("\nTo issue a token:")
		fmt.Println("  xeno-gateway token --user <id>")
	}
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
