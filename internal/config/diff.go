package config

// ConfigDiff describes what changed between two configs. Only the log level
// is hot-applied; service topology changes are reported so the operator
// knows a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	ServicesChanged bool
	ServiceChanges  []ServiceDiff
}

// ServiceDiff describes what changed for a single service between two
// configs.
type ServiceDiff struct {
	Name     string
	Added    bool
	Removed  bool
	Endpoint bool // host, port, or kind changed
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.NLP.ConfidenceThreshold != new.NLP.ConfidenceThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.NLP.ConfidenceThreshold
	}

	oldSvcs := make(map[string]*ServiceConfig, len(old.Services))
	for i := range old.Services {
		oldSvcs[old.Services[i].Name] = &old.Services[i]
	}
	newSvcs := make(map[string]*ServiceConfig, len(new.Services))
	for i := range new.Services {
		newSvcs[new.Services[i].Name] = &new.Services[i]
	}

	for name, oldSvc := range oldSvcs {
		newSvc, exists := newSvcs[name]
		if !exists {
			d.ServiceChanges = append(d.ServiceChanges, ServiceDiff{Name: name, Removed: true})
			d.ServicesChanged = true
			continue
		}
		if oldSvc.Host != newSvc.Host || oldSvc.Port != newSvc.Port || oldSvc.Kind != newSvc.Kind {
			d.ServiceChanges = append(d.ServiceChanges, ServiceDiff{Name: name, Endpoint: true})
			d.ServicesChanged = true
		}
	}
	for name := range newSvcs {
		if _, exists := oldSvcs[name]; !exists {
			d.ServiceChanges = append(d.ServiceChanges, ServiceDiff{Name: name, Added: true})
			d.ServicesChanged = true
		}
	}

	return d
}
