// SPDX-License-Identifier: GPL-3.0-or-later

package paramcache

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSeedFile reads a flat key/value YAML document and applies every
// entry to c via Set, so a node can start with a known parameter set
// before the directory's first paramUpdate arrives.
func LoadSeedFile(c *Cache, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("paramcache: reading seed file %s: %w", path, err)
	}

	var seed map[string]any
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("paramcache: parsing seed file %s: %w", path, err)
	}

	for key, value := range seed {
		if err := c.Set(key, value); err != nil {
			return fmt.Errorf("paramcache: applying seed param %s: %w", key, err)
		}
	}
	return nil
}
