package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	gatherly "github.com/gatherly-app/gatherly/sdk/golang"
)

// passphraseEnv overrides the generated store key with a user passphrase.
const passphraseEnv = "GATHERLY_PASSPHRASE"

// app bundles everything a command needs. Call close when done.
type app struct {
	cfg    *Config
	logger *slog.Logger
	store  gatherly.SecureStore
	client *gatherly.Client
	probe  gatherly.Probe
	core   *gatherly.SyncCore

	closers []func() error
}

func openApp(opts ...gatherly.SyncOption) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg, logger: newLogger(cfg)}
	store, closer, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	clientOpts := []gatherly.ClientOption{gatherly.WithClientLogger(a.logger)}
	if cfg.Default.BaseURL != "" {
		clientOpts = append(clientOpts, gatherly.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.Timeout != "" {
		d, err := time.ParseDuration(cfg.Default.Timeout)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("invalid default.timeout %q: %w", cfg.Default.Timeout, err)
		}
		clientOpts = append(clientOpts, gatherly.WithTimeout(d))
	}
	a.client = gatherly.NewClient(store, clientOpts...)
	a.probe = newProbe(cfg, a.client.BaseURL())

	all := append([]gatherly.SyncOption{gatherly.WithLogger(a.logger)}, opts...)
	a.core = gatherly.NewSyncCore(store, a.probe, a.client, all...)
	a.closers = append(a.closers, func() error { a.core.Close(); return nil })
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("cleanup failed", "err", err)
		}
	}
	a.closers = nil
}

// newChat returns a chat manager for the configured websocket endpoint.
func (a *app) newChat(opts ...gatherly.ChatOption) *gatherly.ChatManager {
	if a.cfg.Default.WSURL != "" {
		all := append([]gatherly.ChatOption{gatherly.WithChatLogger(a.logger)}, opts...)
		return gatherly.NewChatManager(a.cfg.Default.WSURL, all...)
	}
	return a.client.NewChatManager(opts...)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// ============================================================================
// Logging
// ============================================================================

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func newLogger(cfg *Config) *slog.Logger {
	level := parseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ============================================================================
// Storage
// ============================================================================

// openStore builds the configured store. File and sqlite stores are
// encrypted with a key derived from $GATHERLY_PASSPHRASE, or with a random
// key kept next to the data when no passphrase is set.
func openStore(cfg *Config) (gatherly.SecureStore, func() error, error) {
	driver := cfg.Storage.Driver
	if driver == "" {
		driver = "file"
	}

	var (
		inner  gatherly.SecureStore
		closer func() error
		dir    string
	)
	switch driver {
	case "memory":
		return gatherly.NewMemoryStore(), nil, nil
	case "file":
		path := cfg.Storage.Path
		if path == "" {
			base, err := configDir()
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(base, "store")
		}
		fs, err := gatherly.NewFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		inner, dir = fs, path
	case "sqlite":
		path := cfg.Storage.Path
		if path == "" {
			base, err := configDir()
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(base, "store.db")
		}
		ss, err := gatherly.OpenSQLStore(path)
		if err != nil {
			return nil, nil, err
		}
		inner, closer, dir = ss, ss.Close, filepath.Dir(path)
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}

	key, err := storeKey(dir)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, nil, err
	}
	enc, err := gatherly.NewEncryptedStore(inner, key)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, nil, err
	}
	return enc, closer, nil
}

func storeKey(dir string) ([]byte, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		salt, err := gatherly.LoadOrCreateSalt(filepath.Join(dir, "store.salt"))
		if err != nil {
			return nil, err
		}
		return gatherly.DeriveKey(pass, salt)
	}

	path := filepath.Join(dir, "store.key")
	key, err := os.ReadFile(path)
	if err == nil && len(key) == 32 {
		return key, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read store key: %w", err)
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate store key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write store key: %w", err)
	}
	return key, nil
}

// ============================================================================
// Reachability
// ============================================================================

// newProbe checks sync.probe_url, or the origin of the API base URL.
func newProbe(cfg *Config, baseURL string) gatherly.Probe {
	target := cfg.Sync.ProbeURL
	if target == "" {
		target = baseURL
		if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
			target = u.Scheme + "://" + u.Host + "/"
		}
	}
	return &gatherly.HTTPProbe{URL: target, Timeout: 3 * time.Second}
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
