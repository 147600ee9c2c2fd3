// internal/config/model.go
//
// Typed configuration model for Piliskor.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                            – dotenv values,
//   • `conf/global.yaml`                         – primary static file,
//   • `PILISKOR_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* validation, so the model never
// hands Vault URIs to callers, only plain strings.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	GeoIPPath  string `koanf:"geoip_path"`
	ForceHTTPS bool   `koanf:"force_https"`
	LogLevel   string `koanf:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

//
// Database section
//

// Database holds the DSN template and its secret.
//
// `DSN` is a go-sql-driver/mysql DSN with a single `%s` verb where the
// password goes.  `Password` is normally a `vault:` reference.
type Database struct {
	DSN          string `koanf:"dsn"            validate:"required"`
	Password     string `koanf:"password"       validate:"required"`
	MaxOpenConns int    `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `koanf:"max_idle_conns" validate:"gte=0"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

//
// Lock section
//

// Lock selects the mutex backend guarding read creation.
//
// Name is shared by every plugin and every run.  A single critical section
// is intended.  The mysql backend waits on its own pool of MaxConns
// connections to the read database, so queued waiters never starve the
// holder of connections.
type Lock struct {
	Backend  string        `koanf:"backend"   validate:"required,oneof=mysql redis memory"`
	Name     string        `koanf:"name"      validate:"required,max=64"`
	Timeout  time.Duration `koanf:"timeout"   validate:"gt=0"`
	MaxConns int           `koanf:"max_conns" validate:"gte=1"`
}

//
// Redis section (lock.backend = redis only)
//

// Redis holds connection details for the redis lock backend.
type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

//
// Vault section
//

// Vault tells the loader where `vault:` references live.  Address and token
// come from VAULT_ADDR and VAULT_TOKEN; only the KV mount is configured here.
type Vault struct {
	Enabled bool   `koanf:"enabled"`
	Mount   string `koanf:"mount"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // PILISKOR_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Lock     Lock     `koanf:"lock"`
	Redis    Redis    `koanf:"redis"`
	Vault    Vault    `koanf:"vault"`
	Paths    Paths    `koanf:"-"` // not loaded from config files
}

// Defaults mirror the values the read controller has always used: a lock
// named "piliskor" with a 15 second wait.
func Defaults() map[string]any {
	return map[string]any{
		"http.listen_addr":        ":8080",
		"http.log_level":          "info",
		"database.max_open_conns": 15,
		"database.max_idle_conns": 5,
		"lock.backend":            "mysql",
		"lock.name":               "piliskor",
		"lock.timeout":            "15s",
		"lock.max_conns":          32,
		"redis.db":                0,
		"vault.mount":             "secret",
	}
}
