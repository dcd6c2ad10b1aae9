// Package cli implements the coco command-line interface.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/coco/internal/paths"
	"github.com/mesh-intelligence/coco/pkg/coco"
	"github.com/mesh-intelligence/coco/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(format string, args ...any) error {
	return &exitError{code: exitUserError, err: fmt.Errorf(format, args...)}
}

func sysError(format string, args ...any) error {
	return &exitError{code: exitSysError, err: fmt.Errorf(format, args...)}
}

// exitCode maps an error returned by a command to the process exit code.
// Requests the server rejected with a 4xx status are user errors. Server
// faults and transport failures are system errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var httpErr *types.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode < 500 {
			return exitUserError
		}
		return exitSysError
	}
	if errors.Is(err, types.ErrTransport) {
		return exitSysError
	}
	return exitUserError
}

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	verbose   bool
}

// app is the state shared by one command tree.
type app struct {
	flags rootFlags
	// newClient builds the client for commands that talk to a server.
	newClient func(opts coco.Options) (*coco.Client, error)
}

// NewRootCmd creates the top-level "coco" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{newClient: coco.New})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "coco",
		Short: "Mirror and publish to a coco schema server",
		Long: "coco keeps a local mirror of a coco server's Type graph and Item set,\n" +
			"streams live updates over its duplex channel and publishes new data.",
		Version:       coco.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: ./.coco or the platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: ./.coco-db or the platform data dir)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newTypesCmd(a),
		newItemsCmd(a),
		newPublishCmd(a),
		newWatchCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func (a *app) resolveConfigDir() (string, error) {
	dir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return "", sysError("resolve config dir: %w", err)
	}
	return dir, nil
}

func (a *app) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if a.flags.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
