package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/castkeep/castkeep/internal/errs"
)

const (
	envelopeVersion = 1
	kdfArgon2id     = "argon2id"

	fileMode = 0o600
	dirMode  = 0o700
)

// envelope is the on-disk frame around the encrypted payload.
type envelope struct {
	Version int    `json:"version"`
	KDF     string `json:"kdf"`
	Salt    []byte `json:"salt"`
	Blob    []byte `json:"blob"`
}

// headerAAD binds the envelope header into the AEAD so a tampered
// version or kdf field fails decryption.
func headerAAD(version int, kdf string) []byte {
	return []byte(fmt.Sprintf("castkeep.vault.v%d.%s", version, kdf))
}

// Container is an open (decrypted) credential container bound to a file
// path. Values live in named partitions under composite string keys.
// All methods are safe for concurrent use.
type Container struct {
	mu   sync.RWMutex
	path string
	salt []byte
	key  []byte
	data map[string]map[string][]byte
}

// Open loads the container at path, creating an empty one when the file
// does not exist. A wrong password against an existing file yields
// errs.ErrBadPassword; an unparsable or truncated file yields errs.ErrCorrupt.
func Open(ctx context.Context, path, password string) (*Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return create(ctx, path, password)
	}
	if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", errs.ErrCorrupt)
	}
	if env.Version != envelopeVersion || env.KDF != kdfArgon2id || len(env.Salt) != SaltLen {
		return nil, fmt.Errorf("unsupported envelope: %w", errs.ErrCorrupt)
	}

	key := deriveKey([]byte(password), env.Salt)
	plain, err := decryptBlob(key, headerAAD(env.Version, env.KDF), env.Blob)
	if err != nil {
		// AEAD failure is almost always a wrong password; a flipped
		// ciphertext bit is indistinguishable and recovers the same way.
		return nil, errs.ErrBadPassword
	}

	var data map[string]map[string][]byte
	if err := json.Unmarshal(plain, &data); err != nil {
		return nil, fmt.Errorf("parse payload: %w", errs.ErrCorrupt)
	}
	if data == nil {
		data = make(map[string]map[string][]byte)
	}
	return &Container{path: path, salt: env.Salt, key: key, data: data}, nil
}

// create writes an empty container immediately so Initialized reports
// true right after the first unlock.
func create(ctx context.Context, path, password string) (*Container, error) {
	salt, err := randBytes(SaltLen)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	c := &Container{
		path: path,
		salt: salt,
		key:  deriveKey([]byte(password), salt),
		data: make(map[string]map[string][]byte),
	}
	if err := c.Persist(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Initialized reports whether a container file exists at path without
// touching its contents.
func Initialized(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Partition returns the named partition, creating it in memory if absent.
func (c *Container) Partition(name string) *Partition {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data != nil && c.data[name] == nil {
		c.data[name] = make(map[string][]byte)
	}
	return &Partition{c: c, name: name}
}

// Persist flushes the current in-memory state to disk with a fresh nonce.
// Mutations are not durable until Persist returns.
func (c *Container) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := c.sealed()
	if err != nil {
		return err
	}
	if err := writeAtomic(c.path, raw); err != nil {
		return fmt.Errorf("persist container: %w", err)
	}
	return nil
}

// sealed serializes and encrypts the current payload into an envelope frame.
func (c *Container) sealed() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.key == nil {
		return nil, errs.ErrVaultLocked
	}
	plain, err := json.Marshal(c.data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	blob, err := encryptBlob(c.key, headerAAD(envelopeVersion, kdfArgon2id), plain)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}
	return json.Marshal(envelope{Version: envelopeVersion, KDF: kdfArgon2id, Salt: c.salt, Blob: blob})
}

// Wipe zeroes key material and drops the decrypted payload. The container
// is unusable afterwards; Persist fails with errs.ErrVaultLocked.
func (c *Container) Wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.key {
		c.key[i] = 0
	}
	c.key = nil
	for _, m := range c.data {
		for k, v := range m {
			for i := range v {
				v[i] = 0
			}
			delete(m, k)
		}
	}
	c.data = nil
}

// writeAtomic writes data through a temp file in the target directory,
// fsyncs, then renames into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".vault-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), fileMode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Partition is a named slice of the container's key space.
type Partition struct {
	c    *Container
	name string
}

// Get returns a copy of the value stored under key.
func (p *Partition) Get(key string) ([]byte, bool) {
	p.c.mu.RLock()
	defer p.c.mu.RUnlock()
	v, ok := p.c.data[p.name][key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Set stores a copy of value under key.
func (p *Partition) Set(key string, value []byte) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if p.c.data == nil {
		return // wiped; the next Persist reports the locked state
	}
	m := p.c.data[p.name]
	if m == nil {
		m = make(map[string][]byte)
		p.c.data[p.name] = m
	}
	m[key] = append([]byte(nil), value...)
}

// Remove deletes key; removing a missing key is a no-op.
func (p *Partition) Remove(key string) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	delete(p.c.data[p.name], key)
}

// Keys lists the partition's keys in sorted order.
func (p *Partition) Keys() []string {
	p.c.mu.RLock()
	defer p.c.mu.RUnlock()
	m := p.c.data[p.name]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
