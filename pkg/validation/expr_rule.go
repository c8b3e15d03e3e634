package validation

import (
	"errors"
	"fmt"
	"os"

	"github.com/dukex/processflow/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// ExprRuleConfig describes a per-node check written as a boolean expression.
// The expression sees the node fields by their JSON names (label, system, details, ...).
type ExprRuleConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Message    string `yaml:"message"`
}

// ExprRule is a compiled ExprRuleConfig. A node fails the rule when the expression is false.
type ExprRule struct {
	name    string
	message string
	program *vm.Program
}

// NewExprRule compiles the expression against the node environment.
func NewExprRule(cfg ExprRuleConfig) (*ExprRule, error) {
	if cfg.Name == "" {
		return nil, errors.New("expression rule name is required")
	}

	program, err := expr.Compile(cfg.Expression, expr.Env(nodeEnv(models.StepNode{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.Name, err)
	}

	message := cfg.Message
	if message == "" {
		message = "step does not satisfy " + cfg.Name
	}

	return &ExprRule{name: cfg.Name, message: message, program: program}, nil
}

func (r *ExprRule) Name() string { return r.name }

func (r *ExprRule) Check(flow *models.Flow) models.Report {
	report := models.Report{}

	for _, node := range flow.Nodes {
		out, err := expr.Run(r.program, nodeEnv(node))

		ok, isBool := out.(bool)
		if err == nil && isBool && ok {
			continue
		}

		message := r.message
		if err != nil {
			message = fmt.Sprintf("%s (evaluation error: %v)", r.message, err)
		}

		report = append(report, models.Defect{
			NodeID:  node.ID,
			Rule:    r.name,
			Message: message,
		})
	}

	return report
}

// LoadExprRules reads a YAML list of expression rules from path.
func LoadExprRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var configs []ExprRuleConfig

	err = yaml.Unmarshal(data, &configs)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	rules := make([]Rule, 0, len(configs))

	for _, cfg := range configs {
		rule, err := NewExprRule(cfg)
		if err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

func nodeEnv(node models.StepNode) map[string]any {
	return map[string]any{
		"id":              node.ID,
		"label":           node.Label,
		"details":         node.Details,
		"system":          node.System,
		"expected_result": node.ExpectedResult,
		"prerequisites":   node.Prerequisites,
		"notes":           node.Notes,
		"start_ts":        node.StartTS,
		"duration":        node.Duration,
		"screenshot_ref":  node.ScreenshotRef,
		"video_clip_ref":  node.VideoClipRef,
	}
}
