package config

import (
	"encoding/json"
	"fmt"
)

// migration transforms a JSON config envelope from one version to the next.
type migration struct {
	from    int
	to      int
	migrate func(raw json.RawMessage) (json.RawMessage, error)
}

// migrations is the ordered list of envelope migrations. Empty for now —
// version 1 is the initial format.
var migrations []migration

// migrate runs every migration starting at fromVersion and returns the
// resulting envelope bytes.
func migrate(data []byte, fromVersion int) ([]byte, error) {
	current := fromVersion
	for _, m := range migrations {
		if m.from != current {
			continue
		}
		migrated, err := m.migrate(json.RawMessage(data))
		if err != nil {
			return nil, fmt.Errorf("migration v%d->v%d: %w", m.from, m.to, err)
		}
		data = migrated
		current = m.to
	}
	if current != currentVersion {
		return nil, fmt.Errorf("no migration path from version %d to %d", fromVersion, currentVersion)
	}
	return data, nil
}
