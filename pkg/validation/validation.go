// Package validation inspects flow snapshots and reports structural and content defects.
// Validation never mutates the flow it inspects.
package validation

import (
	"github.com/dukex/processflow/pkg/models"
)

// Rule names used in defects.
const (
	RuleLabelRequired   = "label_required"
	RuleDanglingEdge    = "dangling_edge"
	RuleDuplicateNodeID = "duplicate_node_id"
	RuleSingleEntry     = "single_entry"
	RuleAcyclic         = "acyclic"
)

// Rule checks one property of a flow.
type Rule interface {
	Name() string
	Check(flow *models.Flow) models.Report
}

// Engine runs an ordered set of rules.
type Engine struct {
	rules []Rule
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules appends rules after the defaults.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) {
		e.rules = append(e.rules, rules...)
	}
}

// WithStructuralChecks enables the duplicate id, single entry and acyclic checks.
func WithStructuralChecks() Option {
	return WithRules(DuplicateNodeIDs{}, SingleEntry{}, Acyclic{})
}

// NewEngine creates an engine with the label and edge-resolution rules plus any options.
func NewEngine(opts ...Option) *Engine {
	engine := &Engine{
		rules: []Rule{LabelRequired{}, DanglingEdges{}},
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Rules returns the names of the configured rules in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, rule := range e.rules {
		names = append(names, rule.Name())
	}

	return names
}

// Validate runs every rule and concatenates their defects in rule order.
func (e *Engine) Validate(flow *models.Flow) models.Report {
	report := models.Report{}
	if flow == nil {
		return report
	}

	for _, rule := range e.rules {
		report = append(report, rule.Check(flow)...)
	}

	return report
}

var defaultEngine = NewEngine()

// Validate runs the default rules: every node labelled, every edge resolved.
func Validate(flow *models.Flow) models.Report {
	return defaultEngine.Validate(flow)
}
