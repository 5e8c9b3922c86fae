package logging

import "fmt"

// Open builds the LogStore described by cfg. It returns nil, nil when the
// backend is empty.
func Open(cfg Config) (LogStore, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "jsonl":
		return NewJSONLStore(cfg.Path)
	case "rotating":
		size := cfg.MaxSizeMB
		if size == 0 {
			size = 10
		}
		return NewRotatingJSONLStore(cfg.Path, size, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("runlog: unknown backend %q", cfg.Backend)
	}
}
