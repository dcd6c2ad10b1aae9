package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/coco/internal/paths"
	"github.com/mesh-intelligence/coco/internal/store"
	"github.com/mesh-intelligence/coco/pkg/types"
)

type initOptions struct {
	host     string
	wsURL    string
	hasUsers bool
	force    bool
}

func newInitCmd(a *app) *cobra.Command {
	var opts initOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the configuration and data directories",
		Long: "Create the configuration directory with a config.yaml and the data\n" +
			"directory with an empty credential store. An existing config.yaml is\n" +
			"kept unless --force is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&opts.wsURL, "ws-url", "", "duplex channel URL (default: derived from host)")
	cmd.Flags().BoolVar(&opts.hasUsers, "has-users", false, "the server has user accounts")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite an existing config.yaml")
	return cmd
}

func (a *app) runInit(cmd *cobra.Command, opts initOptions) error {
	configDir, err := a.resolveConfigDir()
	if err != nil {
		return err
	}
	candidate := types.Config{Host: opts.host, WebSocketURL: opts.wsURL, HasUsers: opts.hasUsers}
	if err := candidate.Validate(); err != nil {
		return userError("init: %w", err)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return sysError("create config directory: %w", err)
	}
	configPath := paths.ConfigFile(configDir)
	exists, err := fileExists(configPath)
	if err != nil {
		return sysError("%w", err)
	}
	if !exists || opts.force {
		dataDir := a.flags.dataDir
		if dataDir != "" {
			if dataDir, err = filepath.Abs(dataDir); err != nil {
				return sysError("resolve data dir: %w", err)
			}
		}
		if err := writeConfig(configPath, candidate, dataDir); err != nil {
			return sysError("write config: %w", err)
		}
	}

	s, err := a.loadConfig()
	if err != nil {
		return err
	}
	creds := store.NewSQLite()
	if err := creds.Attach(s.config.DataDir); err != nil {
		return sysError("initialize credential store: %w", err)
	}
	if err := creds.Detach(); err != nil {
		return sysError("finalize credential store: %w", err)
	}

	out := cmd.OutOrStdout()
	if a.flags.jsonMode {
		return writeJSON(out, map[string]string{
			"config_dir": s.configDir,
			"data_dir":   s.config.DataDir,
			"host":       s.config.Host,
		})
	}
	fmt.Fprintf(out, "coco initialized\nconfig: %s\ndata:   %s\n", configPath, s.config.DataDir)
	return nil
}

func writeConfig(path string, cfg types.Config, dataDir string) error {
	data, err := yaml.Marshal(&configFile{
		Host:           cfg.Host,
		WebSocketURL:   cfg.WebSocketURL,
		HasUsers:       cfg.HasUsers,
		ReconnectDelay: types.DefaultReconnectDelay.String(),
		DataDir:        dataDir,
	})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, append([]byte(defaultConfigYAML), data...), 0o644)
}
