package pipeline

import (
	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
)

// LoginMonitor observes a single login as it runs.
//
// Subjects and attribute sets passed to a monitor belong to the running
// login and must not be retained or modified; copy what you need.
type LoginMonitor interface {
	PhaseBegins(phase configuration.Phase, subject *auth.Subject, attrs *auth.AttributeSet)

	// PluginResult reports one module invocation. after is the committed
	// working copy on success and nil on failure.
	PluginResult(item configuration.ConfigurationItem, before, after *auth.Subject, err error)

	PhaseEnds(phase configuration.Phase, ok bool, subject *auth.Subject, attrs *auth.AttributeSet)

	// ValidationResult reports the verdict on the final reply. Not called
	// when the pipeline failed.
	ValidationResult(err error)
}

// NopMonitor ignores every event.
type NopMonitor struct{}

func (NopMonitor) PhaseBegins(configuration.Phase, *auth.Subject, *auth.AttributeSet) {}
func (NopMonitor) PluginResult(configuration.ConfigurationItem, *auth.Subject, *auth.Subject, error) {
}
func (NopMonitor) PhaseEnds(configuration.Phase, bool, *auth.Subject, *auth.AttributeSet) {}
func (NopMonitor) ValidationResult(error)                                                {}

// Monitors fans events out to several monitors in order.
type Monitors []LoginMonitor

func (ms Monitors) PhaseBegins(phase configuration.Phase, subject *auth.Subject, attrs *auth.AttributeSet) {
	for _, m := range ms {
		m.PhaseBegins(phase, subject, attrs)
	}
}

func (ms Monitors) PluginResult(item configuration.ConfigurationItem, before, after *auth.Subject, err error) {
	for _, m := range ms {
		m.PluginResult(item, before, after, err)
	}
}

func (ms Monitors) PhaseEnds(phase configuration.Phase, ok bool, subject *auth.Subject, attrs *auth.AttributeSet) {
	for _, m := range ms {
		m.PhaseEnds(phase, ok, subject, attrs)
	}
}

func (ms Monitors) ValidationResult(err error) {
	for _, m := range ms {
		m.ValidationResult(err)
	}
}
