package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime/debug"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/oaiiae/contact-leads/cli/api"
	"github.com/oaiiae/contact-leads/cli/logger"
	"github.com/oaiiae/contact-leads/datastores"
	"github.com/oaiiae/contact-leads/handlers"
)

const title = "Contact Leads API"

// Options for the CLI. Pass `--port` or set the `SERVICE_PORT` env var.
type Options struct {
	logger.Options
	api.ServerOptions
	api.RouterOptions
	api.StoreOptions
}

func main() {
	huma.NewError = handlers.NewError
	version, revision, created := buildInfo()

	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		log := logger.New(&options.Options)

		var (
			mu    sync.Mutex
			srv   *http.Server
			store datastores.ContactsStore
		)
		hooks.OnStart(func() {
			s, err := api.OpenStore(context.Background(), &options.StoreOptions, log)
			if err != nil {
				log.Error("could not open the store", "driver", options.Driver, "err", err)
				os.Exit(1)
			}
			server := api.NewServer(&options.ServerOptions,
				api.NewRouter(&options.RouterOptions, s, title, version, revision, created, log),
				log,
			)
			mu.Lock()
			srv, store = server, s
			mu.Unlock()

			log.Info("listening", "addr", server.Addr, "driver", options.Driver, "version", version)
			err = server.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				log.Error("failed to listen and serve", "err", err)
			} else {
				log.Info("server closed")
			}
		})
		hooks.OnStop(func() {
			mu.Lock()
			defer mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), options.ShutdownTimeout)
			defer cancel()
			if srv != nil {
				if err := srv.Shutdown(ctx); err != nil {
					log.Warn("could not shutdown the server", "err", err)
				}
			}
			if store != nil {
				if err := store.Close(ctx); err != nil {
					log.Warn("could not close the store", "err", err)
				}
			}
		})
	})
	cli.Run()
}

// buildInfo reads the module version and the VCS stamp embedded by the go tool.
func buildInfo() (version, revision, created string) {
	version = "devel"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if info.Main.Version != "" {
		version = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			created = setting.Value
		}
	}
	return
}
