// cmd/castkeep/login.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/bridge"
	"github.com/castkeep/castkeep/internal/config"
	"github.com/castkeep/castkeep/internal/credentials"
	"github.com/castkeep/castkeep/internal/deviceauth"
	"github.com/castkeep/castkeep/internal/model"
)

// authConfirmWait bounds how long login waits for the agent's own
// confirmation event after the poll reports success.
const authConfirmWait = 10 * time.Second

func cmdLogin(ctx context.Context, args []string, cfg *config.Client, logger *zap.Logger) {
	if len(args) < 1 {
		usage()
	}
	platform, err := model.ParsePlatform(args[0])
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
	header, err := agent.BearerHeader()
	if err != nil {
		fail(err)
	}
	br, err := bridge.Dial(ctx, agent.EventsURL(), header, repo, logger)
	if err != nil {
		fail(fmt.Errorf("agent event stream: %w", err))
	}
	defer br.Close()

	ctrl := deviceauth.New(agent, logger)
	updates, err := ctrl.Run(ctx, platform)
	if err != nil {
		fail(err)
	}

	final := watchFlow(updates)

	switch final.State {
	case deviceauth.StateSucceeded:
		waitForConfirm(br.Events(), platform)
		cache := credentials.NewStatusCache(repo, agent, logger)
		snap, err := cache.RefreshAll(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "castkeep: some answers are degraded:", err)
		}
		printJSON(snap)
	case deviceauth.StateCancelled:
		fail(errors.New("login cancelled"))
	default:
		err := final.Err
		if err == nil {
			err = fmt.Errorf("login ended in state %s", final.State)
		}
		fail(err)
	}
}

// watchFlow renders flow progress and returns the terminal update.
func watchFlow(updates <-chan deviceauth.Update) deviceauth.Update {
	var final deviceauth.Update
	ticking := false
	for u := range updates {
		switch u.State {
		case deviceauth.StateRequesting:
			fmt.Fprintln(os.Stderr, "requesting device code...")
		case deviceauth.StateAwaitingUser:
			fmt.Printf("open %s\n", choose(u.Attempt.VerificationURIComplete, u.Attempt.VerificationURI))
			fmt.Printf("code: %s\n", u.Attempt.UserCode)
		case deviceauth.StatePolling:
			fmt.Fprintf(os.Stderr, "\rwaiting for approval (%4ds left) ", u.Remaining)
			ticking = true
		default:
			final = u
		}
	}
	if ticking {
		fmt.Fprintln(os.Stderr)
	}
	return final
}

// waitForConfirm blocks until the agent's own auth event arrives over
// the bridge. Events apply in arrival order, so seeing it means the
// token write before it landed in the vault too.
func waitForConfirm(events <-chan model.Event, platform model.Platform) {
	timer := time.NewTimer(authConfirmWait)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintln(os.Stderr, "castkeep: event stream closed before confirmation")
				return
			}
			if ev.Type == model.EventAuthSuccess && ev.Platform == platform {
				return
			}
		case <-timer.C:
			fmt.Fprintln(os.Stderr, "castkeep: no confirmation from agent; run status to check")
			return
		}
	}
}

func cmdListen(ctx context.Context, args []string, cfg *config.Client, logger *zap.Logger) {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	locked := fs.Bool("locked", false, "do not unlock the vault; mutation events are dropped")
	_ = fs.Parse(args)

	session := newSession(cfg, logger)
	if !*locked {
		if err := unlock(ctx, session); err != nil {
			fail(err)
		}
		defer session.Lock()
	}
	repo := credentials.NewRepository(session, logger)

	agent := newAgent(cfg)
	header, err := agent.BearerHeader()
	if err != nil {
		fail(err)
	}
	br, err := bridge.Dial(ctx, agent.EventsURL(), header, repo, logger)
	if err != nil {
		fail(fmt.Errorf("agent event stream: %w", err))
	}
	defer br.Close()

	fmt.Fprintln(os.Stderr, "following agent events (ctrl-c to stop)")
	for {
		select {
		case ev, ok := <-br.Events():
			if !ok {
				return
			}
			printJSON(ev)
		case <-ctx.Done():
			return
		}
	}
}

func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
