package datastore

// Config is the "data_store" configuration section.
type Config struct {
	Persistence PersistenceConfig `yaml:"persistence"`
}

// PersistenceConfig controls optional JSON file persistence. With
// PersistOnChange unset, writes are gated to at most one per interval.
type PersistenceConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Path            string  `yaml:"path"`
	IntervalS       float64 `yaml:"interval_s"`
	PersistOnChange bool    `yaml:"persist_on_change"`
}

func (c *Config) applyDefaults() {
	if c.Persistence.IntervalS == 0 {
		c.Persistence.IntervalS = 30.0
	}
}
