// Command castkeep manages the local credential vault and drives the
// castkeepd agent: platform tokens, OAuth client setup, and device-flow
// sign-ins.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/castkeep/castkeep/internal/agentclient"
	"github.com/castkeep/castkeep/internal/api"
	"github.com/castkeep/castkeep/internal/config"
	"github.com/castkeep/castkeep/internal/credentials"
	"github.com/castkeep/castkeep/internal/limiter"
	"github.com/castkeep/castkeep/internal/model"
	"github.com/castkeep/castkeep/internal/vault"
)

// ---- prompts and output ----

var stdin = bufio.NewReader(os.Stdin)

func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readValue resolves a -value flag; "-" means the rest of stdin.
func readValue(v string) (string, error) {
	if v != "-" {
		return v, nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "castkeep:", err)
	os.Exit(1)
}

// ---- wiring ----

func newLogger(cfg config.LoggingConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.WarnLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	if cfg.Format == "text" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logger, err := zcfg.Build()
	if err != nil {
		fail(err)
	}
	return logger
}

func newSession(cfg *config.Client, logger *zap.Logger) *vault.Session {
	throttle := limiter.NewMemory(cfg.Unlock.Window, cfg.Unlock.MaxFails, cfg.Unlock.BlockFor)
	return vault.NewSession(cfg.Vault.Path, cfg.Vault.Partition, throttle, logger)
}

// unlock prompts once and opens the vault session.
func unlock(ctx context.Context, session *vault.Session) error {
	pw, err := promptPassword("vault password: ")
	if err != nil {
		return err
	}
	return session.Initialize(ctx, pw)
}

func newAgent(cfg *config.Client) *agentclient.Client {
	return agentclient.New(cfg.Agent.Addr, []byte(cfg.Agent.AuthKey))
}

func usage() {
	fmt.Fprintf(os.Stderr, `castkeep CLI
Usage:
  castkeep [-config file] <cmd> [args]

Commands:
  version
  init                                      (create the vault)
  status    [-locked]
  token set <platform> -value <token|->     (store locally, push to the agent)
  token get <platform>
  token rm  <platform>
  oauth set <platform> -client-id <id> [-client-secret <secret>]
  oauth rm  <platform>
  login     <platform>                      (device-flow sign-in via the agent)
  listen    [-locked]                       (follow agent events, mirror into the vault)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfgPath := flag.String("config", config.DefaultClientPath(), "config file (TOML)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	if cmd == "version" {
		fmt.Printf("castkeep %s (%s)\n", version, buildDate)
		return
	}

	cfg, err := config.LoadClient(*cfgPath)
	if err != nil {
		fail(err)
	}
	logger := newLogger(cfg.Logging)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {

	case "init":
		session := newSession(cfg, logger)
		ok, err := session.Initialized()
		if err != nil {
			fail(err)
		}
		if ok {
			fail(fmt.Errorf("vault already initialized at %s", cfg.Vault.Path))
		}
		pw, err := promptPassword("new vault password: ")
		if err != nil {
			fail(err)
		}
		again, err := promptPassword("repeat password: ")
		if err != nil {
			fail(err)
		}
		if pw != again {
			fail(errors.New("passwords do not match"))
		}
		if err := session.Initialize(ctx, pw); err != nil {
			fail(err)
		}
		session.Lock()
		fmt.Println("vault created at", cfg.Vault.Path)

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		locked := fs.Bool("locked", false, "skip the vault unlock; local answers degrade to the agent")
		_ = fs.Parse(flag.Args()[1:])

		session := newSession(cfg, logger)
		if !*locked {
			if err := unlock(ctx, session); err != nil {
				fail(err)
			}
			defer session.Lock()
		}
		repo := credentials.NewRepository(session, logger)
		cache := credentials.NewStatusCache(repo, newAgent(cfg), logger)
		snap, err := cache.RefreshAll(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "castkeep: some answers are degraded:", err)
		}
		printJSON(snap)

	case "token":
		cmdToken(ctx, flag.Args()[1:], cfg, logger)

	case "oauth":
		cmdOAuth(ctx, flag.Args()[1:], cfg, logger)

	case "login":
		cmdLogin(ctx, flag.Args()[1:], cfg, logger)

	case "listen":
		cmdListen(ctx, flag.Args()[1:], cfg, logger)

	default:
		usage()
	}
}

// ---- token / oauth subcommands ----

func cmdToken(ctx context.Context, args []string, cfg *config.Client, logger *zap.Logger) {
	if len(args) < 2 {
		usage()
	}
	sub := args[0]
	platform, err := model.ParsePlatform(args[1])
	if err != nil {
		fail(err)
	}

	session := newSession(cfg, logger)
	if err := unlock(ctx, session); err != nil {
		fail(err)
	}
	defer session.Lock()
	repo := credentials.NewRepository(session, logger)
	agent := newAgent(cfg)

	switch sub {

	case "set":
		fs := flag.NewFlagSet("token set", flag.ExitOnError)
		value := fs.String("value", "", "access token; - reads stdin")
		_ = fs.Parse(args[2:])
		if *value == "" {
			fmt.Fprintln(os.Stderr, "need -value")
			os.Exit(1)
		}
		token, err := readValue(*value)
		if err != nil {
			fail(err)
		}
		if token == "" {
			fail(errors.New("empty token"))
		}
		// Vault first. If the agent push fails the local copy survives
		// and a later listen/login resyncs.
		if err := repo.SaveToken(ctx, platform, token); err != nil {
			fail(err)
		}
		if err := agent.SaveToken(ctx, platform, token); err != nil {
			fail(fmt.Errorf("saved to vault, agent push failed: %w", err))
		}
		fmt.Println("ok")

	case "get":
		token, ok, err := repo.Token(ctx, platform)
		if err != nil {
			fail(err)
		}
		if !ok {
			fail(fmt.Errorf("no token stored for %s", platform))
		}
		fmt.Println(token)

	case "rm":
		if err := repo.DeleteToken(ctx, platform); err != nil {
			fail(err)
		}
		if err := agent.DeleteToken(ctx, platform); err != nil {
			fail(fmt.Errorf("removed from vault, agent delete failed: %w", err))
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

func cmdOAuth(ctx context.Context, args []string, cfg *config.Client, logger *zap.Logger) {
	if len(args) < 2 {
		usage()
	}
	sub := args[0]
	platform, err := model.ParsePlatform(args[1])
	if err != nil {
		fail(err)
	}
	agent := newAgent(cfg)

	switch sub {

	case "set":
		info, err := model.Info(platform)
		if err != nil {
			fail(err)
		}
		fs := flag.NewFlagSet("oauth set", flag.ExitOnError)
		clientID := fs.String("client-id", "", "OAuth client id")
		clientSecret := fs.String("client-secret", "", "OAuth client secret (auth-code platforms)")
		_ = fs.Parse(args[2:])
		if *clientID == "" {
			fmt.Fprintln(os.Stderr, "need -client-id")
			os.Exit(1)
		}
		req := api.OAuthConfigRequest{
			Grant:        string(info.Grant),
			ClientID:     *clientID,
			ClientSecret: *clientSecret,
		}
		if err := agent.SaveOAuthConfig(ctx, platform, req); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "rm":
		if err := agent.DeleteOAuthConfig(ctx, platform); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}
