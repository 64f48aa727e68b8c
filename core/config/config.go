package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrNilConfig = errors.New("config: nil destination")

var (
	cache     sync.Map // reflect.Type -> any
	envOnce   sync.Once
	envMu     sync.Mutex
	envFiles  = []string{".env"}
	envLoaded error
)

// SetEnvFiles sets the files loaded before the first Load. Files that do not
// exist are skipped. It has no effect once a configuration was loaded.
func SetEnvFiles(files ...string) {
	envMu.Lock()
	defer envMu.Unlock()
	envFiles = files
}

// Load parses environment variables into cfg. The first successful result
// for a type is cached and copied into cfg on later calls.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilConfig
	}

	if err := loadEnvFiles(); err != nil {
		return err
	}

	key := reflect.TypeFor[T]()
	if cached, ok := cache.Load(key); ok {
		*cfg = cached.(T)
		return nil
	}

	var parsed T
	if err := env.Parse(&parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}

	actual, _ := cache.LoadOrStore(key, parsed)
	*cfg = actual.(T)
	return nil
}

// MustLoad is like Load but panics on error.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

func loadEnvFiles() error {
	envOnce.Do(func() {
		envMu.Lock()
		files := envFiles
		envMu.Unlock()

		var existing []string
		for _, f := range files {
			if _, err := os.Stat(f); err == nil {
				existing = append(existing, f)
			}
		}
		if len(existing) > 0 {
			if err := godotenv.Load(existing...); err != nil {
				envLoaded = fmt.Errorf("config: load env files: %w", err)
			}
		}
	})
	return envLoaded
}
