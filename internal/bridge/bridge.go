// Package bridge follows the agent's event stream and keeps the local
// vault in step with it.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/errs"
	"github.com/castkeep/castkeep/internal/model"
)

// Applier receives the vault mutations carried by events.
// *credentials.Repository satisfies it.
type Applier interface {
	SaveToken(ctx context.Context, platform model.Platform, token string) error
	DeleteToken(ctx context.Context, platform model.Platform) error
	SaveOAuthSecret(ctx context.Context, platform model.Platform, secret string) error
	DeleteOAuthSecret(ctx context.Context, platform model.Platform) error
}

// Bridge applies events strictly in arrival order. Auth events reach
// Events() only after every preceding vault mutation has been applied,
// so receiving auth:success implies the matching vault:save-token is
// already persisted.
type Bridge struct {
	conn *websocket.Conn
	repo Applier
	log  *zap.Logger

	events chan model.Event
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

// Dial connects to the agent's event endpoint and starts the apply loop.
// ctx bounds the dial and the loop's lifetime.
func Dial(ctx context.Context, url string, header http.Header, repo Applier, log *zap.Logger) (*Bridge, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		conn:   conn,
		repo:   repo,
		log:    log,
		events: make(chan model.Event, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-b.done:
		}
	}()
	return b, nil
}

// Events delivers auth notifications. The channel closes when the
// stream ends.
func (b *Bridge) Events() <-chan model.Event {
	return b.events
}

// Close tears the stream down and waits for the apply loop to finish.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		b.conn.Close()
	})
	<-b.done
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	defer close(b.events)
	defer b.conn.Close()

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.Warn("event stream read", zap.Error(err))
			}
			return
		}
		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			b.log.Warn("undecodable event", zap.Error(err))
			continue
		}
		if !b.apply(ctx, ev) {
			return
		}
	}
}

// apply handles one event; false means the bridge is shutting down.
func (b *Bridge) apply(ctx context.Context, ev model.Event) bool {
	switch ev.Type {
	case model.EventSaveToken:
		b.mutate(ev, func() error { return b.repo.SaveToken(ctx, ev.Platform, ev.Token) })
	case model.EventDeleteToken:
		b.mutate(ev, func() error { return b.repo.DeleteToken(ctx, ev.Platform) })
	case model.EventSaveSecret:
		b.mutate(ev, func() error { return b.repo.SaveOAuthSecret(ctx, ev.Platform, ev.Secret) })
	case model.EventDeleteSecret:
		b.mutate(ev, func() error { return b.repo.DeleteOAuthSecret(ctx, ev.Platform) })
	case model.EventAuthSuccess, model.EventAuthRequired:
		select {
		case b.events <- ev:
		case <-b.stop:
			return false
		}
	default:
		b.log.Debug("ignoring unknown event type", zap.String("type", string(ev.Type)))
	}
	return true
}

// mutate runs a vault operation for an event. Failures are logged and
// dropped; there is no caller to raise them to. A locked vault is the
// documented loss case: the event is gone, a later unlock does not
// replay it.
func (b *Bridge) mutate(ev model.Event, op func() error) {
	err := op()
	switch {
	case err == nil:
		b.log.Debug("event applied",
			zap.String("type", string(ev.Type)),
			zap.String("platform", string(ev.Platform)))
	case errors.Is(err, errs.ErrVaultLocked):
		b.log.Warn("vault locked, event dropped",
			zap.String("type", string(ev.Type)),
			zap.String("platform", string(ev.Platform)))
	default:
		b.log.Warn("event apply failed",
			zap.String("type", string(ev.Type)),
			zap.String("platform", string(ev.Platform)),
			zap.Error(err))
	}
}
