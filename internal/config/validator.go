// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `internal/config/loader.go` calls `validateStruct` immediately after it
// unmarshals the merged Koanf tree and resolves Vault references.  Any tag
// mismatch aborts startup, so the binary never runs with a partial lock or
// database section.
//
// One cross-field rule lives here: the redis backend needs `redis.addr`.

package config

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = validator.New()

// ErrRedisAddr is returned when lock.backend is redis but redis.addr is empty.
var ErrRedisAddr = errors.New("config: lock.backend=redis requires redis.addr")

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Lock.Backend == "redis" && c.Redis.Addr == "" {
		return ErrRedisAddr
	}
	return nil
}
