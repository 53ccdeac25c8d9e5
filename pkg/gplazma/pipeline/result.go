package pipeline

import (
	"fmt"
	"strings"

	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
)

// PluginResult is the recorded outcome of one module invocation.
type PluginResult struct {
	Name    string
	Control configuration.Control
	Err     error
	Added   []auth.Principal
	Removed []auth.Principal
}

func (r PluginResult) OK() bool { return r.Err == nil }

// PhaseResult is the recorded outcome of one phase.
type PhaseResult struct {
	Phase    configuration.Phase
	Finished bool
	OK       bool
	Added    []auth.Principal
	Removed  []auth.Principal
	Plugins  []PluginResult

	before []auth.Principal
}

// ValidationOutcome records the verdict on the final reply.
type ValidationOutcome struct {
	Err error
}

// LoginResult is the complete record of one login, as built by a Recorder.
type LoginResult struct {
	Initial    []auth.Principal
	Final      []auth.Principal
	Phases     []PhaseResult
	Validation *ValidationOutcome
}

// Phase returns the recorded result of phase p, or nil if p never ran.
func (r *LoginResult) Phase(p configuration.Phase) *PhaseResult {
	for i := range r.Phases {
		if r.Phases[i].Phase == p {
			return &r.Phases[i]
		}
	}
	return nil
}

// Succeeded reports whether every phase ran and succeeded and the reply
// passed validation.
func (r *LoginResult) Succeeded() bool {
	if len(r.Phases) != len(configuration.Phases) {
		return false
	}
	for _, ph := range r.Phases {
		if !ph.Finished || !ph.OK {
			return false
		}
	}
	return r.Validation != nil && r.Validation.Err == nil
}

// Recorder is a LoginMonitor that builds a LoginResult. A Recorder records
// exactly one login and is not safe for concurrent use.
type Recorder struct {
	result LoginResult
}

// NewRecorder creates a recorder for a login of subject.
func NewRecorder(subject *auth.Subject) *Recorder {
	return &Recorder{result: LoginResult{Initial: subject.Principals()}}
}

// Result returns the record built so far.
func (r *Recorder) Result() *LoginResult {
	return &r.result
}

func (r *Recorder) PhaseBegins(phase configuration.Phase, subject *auth.Subject, _ *auth.AttributeSet) {
	r.result.Phases = append(r.result.Phases, PhaseResult{Phase: phase, before: subject.Principals()})
}

func (r *Recorder) PluginResult(item configuration.ConfigurationItem, before, after *auth.Subject, err error) {
	ph := r.current()
	if ph == nil {
		return
	}
	pr := PluginResult{Name: item.PluginName, Control: item.Control, Err: err}
	if after != nil {
		pr.Added, pr.Removed = diff(before.Principals(), after.Principals())
	}
	ph.Plugins = append(ph.Plugins, pr)
}

func (r *Recorder) PhaseEnds(_ configuration.Phase, ok bool, subject *auth.Subject, _ *auth.AttributeSet) {
	ph := r.current()
	if ph == nil {
		return
	}
	final := subject.Principals()
	ph.Finished = true
	ph.OK = ok
	ph.Added, ph.Removed = diff(ph.before, final)
	r.result.Final = final
}

func (r *Recorder) ValidationResult(err error) {
	r.result.Validation = &ValidationOutcome{Err: err}
}

func (r *Recorder) current() *PhaseResult {
	if len(r.result.Phases) == 0 {
		return nil
	}
	return &r.result.Phases[len(r.result.Phases)-1]
}

func diff(before, after []auth.Principal) (added, removed []auth.Principal) {
	inBefore := make(map[auth.Principal]struct{}, len(before))
	for _, p := range before {
		inBefore[p] = struct{}{}
	}
	inAfter := make(map[auth.Principal]struct{}, len(after))
	for _, p := range after {
		inAfter[p] = struct{}{}
		if _, ok := inBefore[p]; !ok {
			added = append(added, p)
		}
	}
	for _, p := range before {
		if _, ok := inAfter[p]; !ok {
			removed = append(removed, p)
		}
	}
	return added, removed
}

// ============================================================================
// Explanation
// ============================================================================

// Explain renders the login as a tree: principals in and out, then every
// phase with its plugins, their outcome and the principals they changed.
// Credentials are never rendered.
func (r *LoginResult) Explain() string {
	var b strings.Builder

	fmt.Fprintf(&b, "LOGIN %s\n", label(r.Succeeded()))
	writeLines(&b, " in", r.Initial)
	writeLines(&b, "out", r.Final)
	b.WriteString(" |\n")

	for _, phase := range configuration.Phases {
		ph := r.Phase(phase)
		name := strings.ToUpper(phase.String())
		if ph == nil {
			fmt.Fprintf(&b, " +--(%s) skipped\n |\n", name)
			continue
		}
		r.explainPhase(&b, name, ph)
	}

	switch {
	case r.Validation == nil:
		b.WriteString(" +--(VALIDATION) skipped\n")
	case r.Validation.Err != nil:
		fmt.Fprintf(&b, " +--VALIDATION FAIL (%v)\n", r.Validation.Err)
	default:
		b.WriteString(" +--VALIDATION OK\n")
	}
	return b.String()
}

func (r *LoginResult) explainPhase(b *strings.Builder, name string, ph *PhaseResult) {
	status := label(ph.OK)
	if !ph.Finished {
		status = "FAIL (interrupted)"
	}
	fmt.Fprintf(b, " +--%s %s\n", name, status)
	writeDiff(b, " |   |  ", ph.Added, ph.Removed)

	if n := len(ph.Plugins); n > 0 {
		b.WriteString(" |   |\n")
		for i, p := range ph.Plugins {
			last := i == n-1
			writePluginHeader(b, p, last && ph.Finished, ph.OK)
			prefix := " |   |    "
			if last {
				prefix = " |        "
			}
			writeDiff(b, prefix, p.Added, p.Removed)
			if !last {
				b.WriteString(" |   |\n")
			}
		}
	}
	b.WriteString(" |\n")
}

func writePluginHeader(b *strings.Builder, p PluginResult, lastOfPhase, phaseOK bool) {
	result := label(p.OK())
	errText := ""
	if !p.OK() {
		errText = fmt.Sprintf(" (%v)", p.Err)
	}
	effect := result
	if p.Control == configuration.Optional || p.Control == configuration.Sufficient {
		effect = "OK"
	}
	fmt.Fprintf(b, " |   +--%s %s:%s%s => %s", p.Name, strings.ToUpper(p.Control.String()), result, errText, effect)

	endsPhase := (p.OK() && p.Control == configuration.Sufficient && phaseOK) ||
		(!p.OK() && p.Control == configuration.Requisite)
	if endsPhase && lastOfPhase {
		b.WriteString(" (ends the phase)")
	}
	b.WriteByte('\n')
}

func writeLines(b *strings.Builder, title string, principals []auth.Principal) {
	for i, p := range principals {
		if i == 0 {
			fmt.Fprintf(b, " |   %s: %s\n", title, p)
		} else {
			fmt.Fprintf(b, " |        %s\n", p)
		}
	}
}

func writeDiff(b *strings.Builder, prefix string, added, removed []auth.Principal) {
	for i, p := range added {
		if i == 0 {
			fmt.Fprintf(b, "%s  added: %s\n", prefix, p)
		} else {
			fmt.Fprintf(b, "%s         %s\n", prefix, p)
		}
	}
	for i, p := range removed {
		if i == 0 {
			fmt.Fprintf(b, "%sremoved: %s\n", prefix, p)
		} else {
			fmt.Fprintf(b, "%s         %s\n", prefix, p)
		}
	}
}

func label(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}
