package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: they take effect
// for the next session or the next one-shot call.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LiveChanged is set when voice, model or instructions changed.
	LiveChanged bool

	GlossaryChanged bool

	// GenerateTuningChanged is set when timeout, language or temperature
	// changed. Provider lists are not hot-reloaded.
	GenerateTuningChanged bool

	ExportDirChanged bool
	NewExportDir     string
}

// Changed reports whether anything tracked changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LiveChanged || d.GlossaryChanged ||
		d.GenerateTuningChanged || d.ExportDirChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ol, nl := old.Live, new.Live
	if ol.Model != nl.Model || ol.Voice != nl.Voice ||
		ol.TranscriptionInstruction != nl.TranscriptionInstruction ||
		ol.RoleplayInstruction != nl.RoleplayInstruction {
		d.LiveChanged = true
	}

	d.GlossaryChanged = !slices.Equal(old.Glossary, new.Glossary)

	og, ng := old.Generate, new.Generate
	if og.Timeout != ng.Timeout || og.Language != ng.Language || og.Temperature != ng.Temperature {
		d.GenerateTuningChanged = true
	}

	if old.Export.Dir != new.Export.Dir {
		d.ExportDirChanged = true
		d.NewExportDir = new.Export.Dir
	}

	return d
}
