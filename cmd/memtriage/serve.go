package memtriage

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memtriage/memtriage/internal/artifacts"
	"github.com/memtriage/memtriage/internal/audit"
	"github.com/memtriage/memtriage/internal/launch"
	"github.com/memtriage/memtriage/internal/logging"
	"github.com/memtriage/memtriage/internal/web"
)

var flagAddr string

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard for reports, scan logs and run controls",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default \"127.0.0.1:5000\")")
	rootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	store := newStore(rulesDir())
	if err := store.Ensure(); err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	launcher, err := launch.New(launch.WithDir(cwd))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := web.New(web.Options{
		Store:      store,
		Log:        audit.NewLog(store.Dir(artifacts.Yara)),
		Launcher:   launcher,
		BaseArgs:   forwardedArgs(),
		RunContext: ctx,
	})

	addr := pickString(flagAddr, nil, fileCfg.GetAddr())
	cmd.Printf("Dashboard: http://%s\n", addr)
	err = srv.ListenAndServe(ctx, addr)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	logging.GetLogger("cli").Info().Msg("Dashboard stopped")
	return err
}
