// Package configuration holds the PAM-style login configuration model and
// its text parser.
//
// A configuration is an ordered list of ConfigurationItem, one per
// directive line:
//
//	# phase  control     plugin   arguments
//	auth     optional    x509
//	auth     sufficient  kpwd     "kpwd=/etc/dcache/dcache.kpwd"
//	map      requisite   gridmap  gridmap=/etc/grid-security/grid-mapfile
//	session  required    authzdb
//
// Items are grouped by phase into Stacks that keep source order.
package configuration

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Phase is one of the five successive login stages.
type Phase int

const (
	Authentication Phase = iota
	Mapping
	Account
	Session
	Identity
)

// Phases lists every phase in execution order.
var Phases = [...]Phase{Authentication, Mapping, Account, Session, Identity}

var phaseKeywords = [...]string{"auth", "map", "account", "session", "identity"}

// String returns the configuration keyword of the phase.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseKeywords) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseKeywords[p]
}

// ParsePhase maps a keyword (any case) to its Phase.
func ParsePhase(s string) (Phase, bool) {
	for i, kw := range phaseKeywords {
		if strings.EqualFold(s, kw) {
			return Phase(i), true
		}
	}
	return 0, false
}

// Control governs how a module's outcome affects its phase.
type Control int

const (
	Required Control = iota
	Requisite
	Sufficient
	Optional
)

var controlKeywords = [...]string{"required", "requisite", "sufficient", "optional"}

func (c Control) String() string {
	if c < 0 || int(c) >= len(controlKeywords) {
		return fmt.Sprintf("control(%d)", int(c))
	}
	return controlKeywords[c]
}

// ParseControl maps a keyword (any case) to its Control.
func ParseControl(s string) (Control, bool) {
	for i, kw := range controlKeywords {
		if strings.EqualFold(s, kw) {
			return Control(i), true
		}
	}
	return 0, false
}

// PluginConfig is the per-item plugin configuration: named properties from
// key=value tokens and positional arguments from bare tokens.
type PluginConfig struct {
	Properties map[string]string
	Arguments  []string
}

// Property returns a named property.
func (c PluginConfig) Property(key string) (string, bool) {
	v, ok := c.Properties[key]
	return v, ok
}

// Overlay returns a new config with base's properties, overridden by c's.
// Arguments are taken from c only.
func (c PluginConfig) Overlay(base map[string]string) PluginConfig {
	props := make(map[string]string, len(base)+len(c.Properties))
	maps.Copy(props, base)
	maps.Copy(props, c.Properties)
	return PluginConfig{Properties: props, Arguments: slices.Clone(c.Arguments)}
}

// ConfigurationItem is one parsed directive.
type ConfigurationItem struct {
	Phase      Phase
	Control    Control
	PluginName string
	Config     PluginConfig

	// Line is the 1-based source line, 0 for items built in code.
	Line int
}

func (i ConfigurationItem) String() string {
	return fmt.Sprintf("%s %s %s", i.Phase, i.Control, i.PluginName)
}

// Stack is the ordered, immutable list of items for one phase.
type Stack struct {
	phase Phase
	items []ConfigurationItem
}

// NewStack builds a stack from the items of the given phase, keeping order.
// Items of other phases are ignored.
func NewStack(phase Phase, items []ConfigurationItem) Stack {
	var own []ConfigurationItem
	for _, it := range items {
		if it.Phase == phase {
			own = append(own, it)
		}
	}
	return Stack{phase: phase, items: own}
}

func (s Stack) Phase() Phase { return s.phase }

func (s Stack) Len() int { return len(s.items) }

func (s Stack) Empty() bool { return len(s.items) == 0 }

// Items returns a copy of the stack's items.
func (s Stack) Items() []ConfigurationItem {
	return slices.Clone(s.items)
}

// Stacks is the full configuration grouped by phase.
type Stacks [len(phaseKeywords)]Stack

// GroupByPhase groups items into one Stack per phase.
func GroupByPhase(items []ConfigurationItem) Stacks {
	var s Stacks
	for _, p := range Phases {
		s[p] = NewStack(p, items)
	}
	return s
}

// Of returns the stack of phase p.
func (s *Stacks) Of(p Phase) Stack {
	return s[p]
}
