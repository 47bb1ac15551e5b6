// Package main provides the conduit command: it runs one chat turn against a
// tool-calling agent and writes the streamed messages to stdout as
// server-sent event frames.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/entrhq/conduit/pkg/agent"
	"github.com/entrhq/conduit/pkg/agent/tools"
	"github.com/entrhq/conduit/pkg/chat"
	appconfig "github.com/entrhq/conduit/pkg/config"
	"github.com/entrhq/conduit/pkg/messaging"
)

const (
	version      = "0.1.0"
	defaultModel = "gpt-4o"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	ConfigFile  string
	SetupFile   string
	Agent       string
	SessionID   string
	SessionsDir string
	UserID      string
	Message     string
	Timeout     time.Duration
	ShowVersion bool
}

func main() {
	config := parseFlags()

	if config.ShowVersion {
		fmt.Printf("Conduit v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	if err := run(ctx, config); err != nil {
		cancel()
		log.Printf("Chat failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	config := &CLIConfig{}

	flag.StringVar(&config.Provider, "provider", "", "LLM provider: openai, anthropic or openrouter")
	flag.StringVar(&config.APIKey, "api-key", "", "API key (defaults to the provider's environment variable)")
	flag.StringVar(&config.BaseURL, "base-url", "", "API base URL")
	flag.StringVar(&config.Model, "model", defaultModel, "LLM model to use")
	flag.StringVar(&config.ConfigFile, "config", "", "Path to the settings file (default ~/.conduit/config.json)")
	flag.StringVar(&config.SetupFile, "setup", "", "Path to an agent setup file (YAML)")
	flag.StringVar(&config.Agent, "agent", "toolcall", "Agent to run: toolcall or research")
	flag.StringVar(&config.SessionID, "session", "", "Continue an existing session")
	flag.StringVar(&config.SessionsDir, "sessions-dir", "", "Session directory (default ~/.conduit/sessions)")
	flag.StringVar(&config.UserID, "user", "local", "User id for new sessions")
	flag.StringVar(&config.Message, "message", "", "Message to send (or pass it as arguments)")
	flag.DurationVar(&config.Timeout, "timeout", 5*time.Minute, "Chat timeout")
	flag.BoolVar(&config.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Conduit - streaming tool-calling agent\n\n")
		fmt.Fprintf(os.Stderr, "Usage: conduit [options] [message]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  conduit \"What is the capital of France?\"\n")
		fmt.Fprintf(os.Stderr, "  conduit -provider anthropic -model claude-sonnet-4-5 -setup research.yaml \"Compare Go and Rust\"\n")
		fmt.Fprintf(os.Stderr, "  conduit -session 3f2a... \"And in 1990?\"\n\n")
	}

	flag.Parse()
	if config.Message == "" {
		config.Message = strings.Join(flag.Args(), " ")
	}
	return config
}

func run(ctx context.Context, cliConfig *CLIConfig) error {
	if err := appconfig.Initialize(cliConfig.ConfigFile); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	setup := defaultSetup()
	if cliConfig.SetupFile != "" {
		loaded, err := appconfig.LoadAgentSetup(cliConfig.SetupFile)
		if err != nil {
			return err
		}
		setup = loaded
	}
	if section := appconfig.GetAgent(); section != nil {
		section.ApplyDefaults(&setup)
	}

	provider, err := appconfig.BuildProvider(appconfig.ProviderFlags{
		Provider: cliConfig.Provider,
		Model:    cliConfig.Model,
		BaseURL:  cliConfig.BaseURL,
		APIKey:   cliConfig.APIKey,
	}, defaultModel)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	llm, err := appconfig.BuildAdapter(provider)
	if err != nil {
		return fmt.Errorf("failed to create completion adapter: %w", err)
	}

	registry := agent.DefaultRegistry(tools.DefaultRegistry())
	runner := chat.NewAgentRunner(registry, cliConfig.Agent, llm, setup)

	sessionsDir, err := sessionDirectory(cliConfig.SessionsDir)
	if err != nil {
		return err
	}
	sessions, err := chat.NewFileSessionStore(sessionsDir)
	if err != nil {
		return err
	}

	dispatcher := messaging.NewDispatcher()
	service, err := chat.NewService(sessions, dispatcher, runner)
	if err != nil {
		return err
	}

	sessionID := cliConfig.SessionID
	if sessionID == "" {
		sess, createErr := service.CreateSession(ctx, cliConfig.UserID, nil)
		if createErr != nil {
			return createErr
		}
		sessionID = sess.ID
		fmt.Fprintf(os.Stderr, "Session: %s\n", sessionID)
	}

	chatCtx, cancel := context.WithTimeout(ctx, cliConfig.Timeout)
	defer cancel()

	q := dispatcher.CreateQueue(sessionID)
	defer dispatcher.Release(sessionID, q)

	written := make(chan error, 1)
	go func() {
		written <- dispatcher.WriteSSE(chatCtx, os.Stdout, sessionID)
	}()

	_, chatErr := service.Chat(chatCtx, sessionID, chat.Request{Content: cliConfig.Message})
	if chatErr != nil {
		q.Close()
	}
	writeErr := <-written
	if chatErr != nil {
		return chatErr
	}
	return writeErr
}

func sessionDirectory(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".conduit", "sessions"), nil
}
