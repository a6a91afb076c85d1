package config

import (
	"fmt"
	"os"

	"github.com/hugo-lorenzo-mato/promptflow/internal/fsutil"
)

// ProjectConfigPath is the config file looked up in the working directory.
const ProjectConfigPath = ".promptflow/config.yaml"

// WriteDefaultConfig creates path with DefaultConfigYAML. An existing file
// is left alone unless force is set. It reports whether it wrote the file.
func WriteDefaultConfig(path string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !os.IsNotExist(err) {
			return false, fmt.Errorf("checking config: %w", err)
		}
	}

	if err := fsutil.WriteFileAtomic(path, []byte(DefaultConfigYAML), 0o600); err != nil {
		return false, fmt.Errorf("writing config: %w", err)
	}
	return true, nil
}
