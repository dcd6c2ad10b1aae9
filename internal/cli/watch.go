package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/coco/pkg/types"
)

type watchOptions struct {
	cached      bool
	metricsAddr string
}

func newWatchCmd(a *app) *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live schema changes",
		Long: "Load the snapshot, open the duplex channel and print every change to\n" +
			"the mirror until interrupted. Transport failures are retried after the\n" +
			"configured reconnect delay.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.cached, "cached", false, "start from the snapshot saved by the last sync")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, opts watchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client, err := a.openClient(cmd, reg)
	if err != nil {
		return err
	}
	defer client.Close()

	if opts.metricsAddr != "" {
		shutdown, err := serveMetrics(opts.metricsAddr, reg, a.logger(cmd))
		if err != nil {
			return sysError("metrics listener: %w", err)
		}
		defer shutdown()
	}

	w := &watcher{out: cmd.OutOrStdout(), jsonMode: a.flags.jsonMode}
	if err := loadMirror(ctx, client, opts.cached); err != nil {
		return fmt.Errorf("load mirror: %w", err)
	}
	defer client.AddSchemaListener(w)()
	defer client.AddConnectionListener(w)()

	ok, err := client.Resume(ctx)
	if !ok {
		if err != nil {
			return sysError("resume: %w", err)
		}
		return userError("not logged in (run coco login)")
	}
	if err != nil {
		// The session keeps retrying in the background.
		w.line("connection_failed", "", err.Error())
	}

	<-ctx.Done()
	return nil
}

// serveMetrics exposes reg on addr and returns a function that stops the
// server.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// watcher prints schema and connection events, one per line.
type watcher struct {
	mu       sync.Mutex
	out      io.Writer
	jsonMode bool
}

type watchEvent struct {
	Event  string          `json:"event"`
	Target string          `json:"target,omitempty"`
	Detail string          `json:"detail,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

func (w *watcher) emit(ev watchEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jsonMode {
		data, _ := json.Marshal(ev)
		fmt.Fprintln(w.out, string(data))
		return
	}
	line := ev.Event
	if ev.Target != "" {
		line += " " + ev.Target
	}
	if ev.Detail != "" {
		line += " " + ev.Detail
	}
	if len(ev.Value) > 0 {
		line += " " + string(ev.Value)
	}
	fmt.Fprintln(w.out, line)
}

func (w *watcher) line(event, target, detail string) {
	w.emit(watchEvent{Event: event, Target: target, Detail: detail})
}

func (w *watcher) TypeCreated(t *types.Type)     { w.line("type_created", t.Name, "") }
func (w *watcher) ItemCreated(item *types.Item)  { w.line("item_created", item.ID, item.Type.Name) }
func (w *watcher) ItemDeleted(item *types.Item)  { w.line("item_deleted", item.ID, "") }
func (w *watcher) MessageRejected(err error)     { w.line("message_rejected", "", err.Error()) }
func (w *watcher) ConnectionEstablished()        { w.line("connected", "", "") }
func (w *watcher) ConnectionClosed()             { w.line("closed", "", "") }
func (w *watcher) ConnectionFailed(err error)    { w.line("connection_failed", "", err.Error()) }
func (w *watcher) RequestFailed(err error)       { w.line("request_failed", "", err.Error()) }
func (w *watcher) MessageReceived(types.Message) {}

func (w *watcher) ItemValueChanged(item *types.Item, v types.Value) {
	w.emit(watchEvent{Event: "value_changed", Target: item.ID, Value: v.Data})
}
