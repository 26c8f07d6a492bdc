package pathing

import (
	"os"
	"path/filepath"
)

// ConfigDirEnv overrides the config directory, mostly for tests and containers.
const ConfigDirEnv = "IEC_READER_CONFIG_DIR"

func GetConfigDir() string {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir
	}
	return "/etc/iec62056_reader"
}

func GetConfigPath(name string) string {
	return filepath.Join(GetConfigDir(), name)
}

// EnsureDir creates dir when it does not exist yet.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
