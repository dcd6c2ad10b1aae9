package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/coco/internal/paths"
	"github.com/mesh-intelligence/coco/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "COCO"

	cfgKeyHost           = "host"
	cfgKeyWebSocketURL   = "ws_url"
	cfgKeyHasUsers       = "has_users"
	cfgKeyReconnectDelay = "reconnect_delay"
	cfgKeyDataDir        = "data_dir"
)

// envKeys are the settings that COCO_* variables override. data_dir is
// left out: it has its own precedence in the paths package.
var envKeys = []string{cfgKeyHost, cfgKeyWebSocketURL, cfgKeyHasUsers, cfgKeyReconnectDelay}

// settings is the resolved configuration for one command run.
type settings struct {
	configDir string
	config    types.Config
}

// loadConfig reads config.yaml from the resolved config directory with
// environment overrides, then resolves the data directory. A missing
// config.yaml is not an error.
func (a *app) loadConfig() (*settings, error) {
	configDir, err := a.resolveConfigDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault(cfgKeyHasUsers, false)
	v.SetDefault(cfgKeyReconnectDelay, types.DefaultReconnectDelay)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, sysError("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, userError("read config: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, userError("parse config: %w", err)
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, cfg.DataDir, configDir)
	if err != nil {
		return nil, sysError("resolve data dir: %w", err)
	}
	cfg.DataDir = dataDir

	return &settings{configDir: configDir, config: cfg}, nil
}

// defaultConfigYAML heads the config.yaml written by init.
const defaultConfigYAML = `# coco client configuration
# Every key except data_dir can be overridden by a COCO_<KEY> variable.
`

// configFile is the structure written to config.yaml.
type configFile struct {
	Host           string `yaml:"host"`
	WebSocketURL   string `yaml:"ws_url,omitempty"`
	HasUsers       bool   `yaml:"has_users"`
	ReconnectDelay string `yaml:"reconnect_delay"`
	DataDir        string `yaml:"data_dir,omitempty"`
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}
