package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied without a restart; every other section
// that differs is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the sections whose changes take effect only
	// after the process restarts (e.g., "server.listen_addr", "stream").
	RestartRequired []string
}

// Changed reports whether anything at all differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Compare the server section with the hot-reloadable field masked out.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"admin", old.Admin, new.Admin},
		{"stream", old.Stream, new.Stream},
		{"providers.stt", old.Providers.STT, new.Providers.STT},
		{"providers.conversation", old.Providers.Conversation, new.Providers.Conversation},
		{"providers.fetch", old.Providers.Fetch, new.Providers.Fetch},
		{"resilience", old.Resilience, new.Resilience},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
