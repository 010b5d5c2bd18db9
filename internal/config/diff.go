package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked: the log level, the per-agent
// model mapping and the media-generation gate may change without a
// restart; everything else (stores, alias index, rule library) is
// read-only after startup.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AgentsChanged bool
	AgentChanges  []AgentDiff

	MediaChanged bool
	NewMedia     MediaConfig
}

// AgentDiff describes one agent's model-mapping change.
type AgentDiff struct {
	Name    string
	Added   bool
	Removed bool

	// Changed is true when the provider or model moved.
	Changed bool
}

// Diff compares old and new configs and returns what changed among the
// hot-reloadable fields.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Agents.Default != new.Agents.Default {
		d.AgentsChanged = true
		d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: "default", Changed: true})
	}
	for name, oldSel := range old.Agents.PerAgent {
		newSel, exists := new.Agents.PerAgent[name]
		switch {
		case !exists:
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Removed: true})
			d.AgentsChanged = true
		case oldSel != newSel:
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Changed: true})
			d.AgentsChanged = true
		}
	}
	for name := range new.Agents.PerAgent {
		if _, exists := old.Agents.PerAgent[name]; !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Added: true})
			d.AgentsChanged = true
		}
	}

	if old.Media != new.Media {
		d.MediaChanged = true
		d.NewMedia = new.Media
	}

	return d
}
