package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/burrowlabs/burrow/internal/actor"
	"github.com/burrowlabs/burrow/internal/config"
	"github.com/burrowlabs/burrow/internal/server"
)

var (
	servePort int
	serveHost string
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Burrow server",
	Long: `Start the Burrow server.

The server will:
  - Serve one WebSocket endpoint per actor name at /actors/{name}/ws
  - Open a per-actor SQLite database under the data directory on first use
  - Resume persisted schedules and outbound connections on actor wake
  - Hibernate idle actors, keeping connection envelopes reattachable`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8100, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to")
	serveCmd.Flags().StringVar(&serveDir, "data-dir", "", "Data directory for actor databases")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Database.Dir = serveDir
	}

	// The default definition: bare durable actors with no hooks or
	// published methods. Embedders build their own command around a
	// factory that registers callbacks and method sets.
	host := actor.NewHost(cfg, func(name string) actor.Definition {
		return actor.Definition{}
	})

	srv := server.New(cfg, host)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	return srv.Start(context.Background())
}
