// internal/config/loader.go
//
// Configuration loader and hot-reloader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from four layers (highest
precedence last):

  1. Built-in defaults (`Defaults()`).
  2. Optional `.env` file at `<root>/conf/.env`.
  3. `conf/global.yaml`.
  4. Environment variables prefixed `PILISKOR_`, where `__` maps to “.”
     (e.g., `PILISKOR_LOCK__TIMEOUT → lock.timeout`).

After merging, the tree is unmarshalled into strongly-typed structs,
secret fields holding `vault:<path>#<key>` references are resolved,
the result is validated, enriched with the runtime root path, and cached
in an `atomic.Pointer` for lock-free reads.

Instrumentation
---------------
  • DEBUG spans:  root discovery, YAML read, env overlay.
  • ERROR spans:  YAML parse, env overlay, unmarshal, Vault, validation.
  • INFO span:  final “config loaded” with key highlights.
  • Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.
*/
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/yanizio/piliskor/internal/vault"
)

const (
	envPrefix   = "PILISKOR_"
	vaultPrefix = "vault:"
	secretTTL   = 10 * time.Minute
)

// ErrVaultDisabled is returned when a field holds a vault: reference but
// vault.enabled is false.
var ErrVaultDisabled = errors.New("config: vault reference found but vault.enabled is false")

// Secrets is the slice of the Vault client the loader needs.
type Secrets interface {
	GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error)
}

// newSecrets builds the Vault client lazily.  Tests swap it for a fake.
var newSecrets = func(ctx context.Context) (Secrets, error) {
	return vault.New(ctx, zap.S().Infof)
}

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves PILISKOR_ROOT or climbs directories until
// conf/global.yaml is found.  Falls back to the executable heuristic for
// the production layout.
func rootDir() string {
	if r := os.Getenv("PILISKOR_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads defaults, .env, YAML, env overrides, resolves Vault
// references, validates, and caches Config.
func Load(ctx context.Context) (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")
	for key, val := range Defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// Env overrides: PILISKOR_LOCK__TIMEOUT → lock.timeout
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, envPrefix), "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	if err := resolveSecrets(ctx, &cfg); err != nil {
		zap.S().Errorw("config vault resolution failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"lock_backend", cfg.Lock.Backend,
		"lock_name", cfg.Lock.Name,
		"lock_timeout", cfg.Lock.Timeout,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

/*──────────────────────────── vault refs ──────────────────────────────────*/

// resolveSecrets swaps every `vault:<path>#<key>` value for the secret it
// points at.  Only the fields below may carry references.
func resolveSecrets(ctx context.Context, cfg *Config) error {
	fields := []*string{&cfg.Database.Password, &cfg.Redis.Password}

	var sec Secrets
	for _, f := range fields {
		if !strings.HasPrefix(*f, vaultPrefix) {
			continue
		}
		if !cfg.Vault.Enabled {
			return ErrVaultDisabled
		}
		if sec == nil {
			var err error
			if sec, err = newSecrets(ctx); err != nil {
				return err
			}
		}
		path, key, err := parseRef(cfg.Vault.Mount, *f)
		if err != nil {
			return err
		}
		val, err := sec.GetKV(ctx, path, key, secretTTL)
		if err != nil {
			return err
		}
		*f = val
	}
	return nil
}

// parseRef splits "vault:db/piliskor#password" into ("secret/db/piliskor",
// "password").  A reference that already names the mount is left alone.
func parseRef(mount, ref string) (path, key string, err error) {
	body := strings.TrimPrefix(ref, vaultPrefix)
	i := strings.LastIndexByte(body, '#')
	if i <= 0 || i == len(body)-1 {
		return "", "", fmt.Errorf("config: malformed vault reference %q", ref)
	}
	path, key = body[:i], body[i+1:]
	if mount != "" && !strings.HasPrefix(path, mount+"/") {
		path = mount + "/" + path
	}
	return path, key, nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

// Get returns the most recently loaded Config, or nil before Load.
func Get() *Config { return current.Load() }

// Reload re-runs Load.  On failure the previous Config stays current.
func Reload(ctx context.Context) error { _, err := Load(ctx); return err }

// Changed lists the sections that differ between prev and next.  Every
// section is read once at boot, so a non-empty result means a restart is
// needed for the new values to apply.
func Changed(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	if prev.HTTP != next.HTTP {
		out = append(out, "http")
	}
	if prev.Database != next.Database {
		out = append(out, "database")
	}
	if prev.Lock != next.Lock {
		out = append(out, "lock")
	}
	if prev.Redis != next.Redis {
		out = append(out, "redis")
	}
	if prev.Vault != next.Vault {
		out = append(out, "vault")
	}
	return out
}
