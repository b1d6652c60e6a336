package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LLMChanged bool
	NewLLM     LLMConfig

	DispatchChanged bool
	NewDispatch     DispatchConfig

	PipelineChanged bool
	NewPipeline     PipelineConfig

	RetroChanged bool
	NewRetro     RetroConfig

	LogLevelChanged bool
	NewLogLevel     string

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.LLMChanged ||
		d.DispatchChanged ||
		d.PipelineChanged ||
		d.RetroChanged ||
		d.LogLevelChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.LLM != new.LLM {
		d.LLMChanged = true
		d.NewLLM = new.LLM
	}

	// LocalWorker is bound to the broker connection at startup.
	oldDispatch, newDispatch := old.Dispatch, new.Dispatch
	oldDispatch.LocalWorker, newDispatch.LocalWorker = false, false
	if oldDispatch != newDispatch {
		d.DispatchChanged = true
		d.NewDispatch = new.Dispatch
	}
	if old.Dispatch.LocalWorker != new.Dispatch.LocalWorker {
		d.NonReloadable = append(d.NonReloadable, "dispatch.local_worker")
	}

	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
		d.NewPipeline = new.Pipeline
	}

	if old.Retro != new.Retro {
		d.RetroChanged = true
		d.NewRetro = new.Retro
	}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	// Non-reloadable warnings
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}

	return d
}
