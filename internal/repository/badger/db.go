// Package badger provides the agent's embedded persistent store.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"
)

// DB wraps a badgerhold store rooted at one directory.
type DB struct {
	store *badgerhold.Store
	log   *zap.Logger
}

// NewDB opens (or creates) the store under dir.
func NewDB(dir string, log *zap.Logger) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.SyncWrites = true
	options.Logger = badgerLogger{log: log.Sugar()}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	log.Debug("badger store opened", zap.String("dir", dir))
	return &DB{store: store, log: log}, nil
}

// Store exposes the underlying badgerhold store.
func (d *DB) Store() *badgerhold.Store { return d.store }

// RunGCLoop runs value-log garbage collection every interval until ctx is
// cancelled. Repeats a cycle while it keeps reclaiming space.
func (d *DB) RunGCLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := d.store.Badger().RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badgerdb.ErrNoRewrite) {
						d.log.Warn("badger value log gc", zap.Error(err))
					}
					break
				}
			}
		}
	}
}

// Close releases the store.
func (d *DB) Close() error {
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// badgerLogger adapts zap to badger's internal logger. Badger is chatty at
// info, so info lines are demoted to debug.
type badgerLogger struct{ log *zap.SugaredLogger }

func (l badgerLogger) Errorf(f string, args ...interface{}) {
	l.log.Errorf(strings.TrimSpace(f), args...)
}

func (l badgerLogger) Warningf(f string, args ...interface{}) {
	l.log.Warnf(strings.TrimSpace(f), args...)
}

func (l badgerLogger) Infof(f string, args ...interface{}) {
	l.log.Debugf(strings.TrimSpace(f), args...)
}

func (l badgerLogger) Debugf(f string, args ...interface{}) {
	l.log.Debugf(strings.TrimSpace(f), args...)
}
