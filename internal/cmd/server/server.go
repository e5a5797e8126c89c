// Package server parses server command flags and starts the HTTP API.
package server

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/quincybrooks/siteslot/internal/httpapi"
	"github.com/quincybrooks/siteslot/internal/pipeline"
	entrypoint "github.com/quincybrooks/siteslot/internal/platform/cmd"
	"github.com/quincybrooks/siteslot/internal/platform/requestctx"
	"github.com/quincybrooks/siteslot/internal/ratelimit"
	"github.com/quincybrooks/siteslot/internal/service"
	"github.com/quincybrooks/siteslot/internal/storage/sqlite"
	"github.com/quincybrooks/siteslot/internal/token"
)

// Config holds server command configuration.
type Config struct {
	Port        int           `env:"SITESLOT_PORT" envDefault:"8080"`
	Addr        string        `env:"SITESLOT_ADDR"`
	DBPath      string        `env:"SITESLOT_DB_PATH" envDefault:"data/siteslot.db"`
	CachePath   string        `env:"SITESLOT_CACHE_PATH"`
	TokenSecret string        `env:"SITESLOT_TOKEN_SECRET,required"`
	TokenIssuer string        `env:"SITESLOT_TOKEN_ISSUER" envDefault:"siteslot"`
	Actors      string        `env:"SITESLOT_MANAGE_ACTORS"`
	Cooldown    time.Duration `env:"SITESLOT_WRITE_COOLDOWN" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The API server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The API server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the sqlite database")
	fs.StringVar(&cfg.CachePath, "cache-path", cfg.CachePath, "Path to the cooldown cache (empty for in-memory)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// actorAllowlist authorizes an explicit set of actor IDs, or every
// non-anonymous actor when the list is empty.
type actorAllowlist map[string]struct{}

func parseAllowlist(raw string) actorAllowlist {
	allowlist := actorAllowlist{}
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		allowlist[id] = struct{}{}
	}
	return allowlist
}

func (a actorAllowlist) Authorize(actor requestctx.Actor) bool {
	if actor.ID == "" {
		return false
	}
	if len(a) == 0 {
		return true
	}
	_, ok := a[actor.ID]
	return ok
}

// Run starts the API server and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(ctx context.Context) error {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		var cache *ratelimit.DB
		if cfg.CachePath == "" {
			cache, err = ratelimit.OpenInMemory()
		} else {
			cache, err = ratelimit.Open(cfg.CachePath)
		}
		if err != nil {
			return err
		}
		defer cache.Close()

		verifier, err := token.NewVerifier([]byte(cfg.TokenSecret), cfg.TokenIssuer, token.DefaultValidity)
		if err != nil {
			return err
		}

		capability := parseAllowlist(cfg.Actors)
		p := &pipeline.Pipeline{
			Locations:  store,
			Snapshots:  store,
			Settings:   store,
			Files:      store,
			Capability: capability,
			Integrity:  verifier,
			Limiter:    ratelimit.NewLimiter(cache, cfg.Cooldown),
			Memo:       ratelimit.NewMemo(cache),
		}
		svc := service.New(p, store, capability, verifier, nil)

		addr := cfg.Addr
		if addr == "" {
			addr = net.JoinHostPort("", strconv.Itoa(cfg.Port))
		}
		server := &http.Server{
			Addr:              addr,
			Handler:           httpapi.NewServer(svc),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Printf("listening on %s", addr)
			errCh <- server.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})
}
