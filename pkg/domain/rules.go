package domain

import (
	"context"
	"fmt"
)

// RuleView is the read side a rule sees: the transaction's state after its
// writes, before commit.
type RuleView interface {
	ListProjects() []Project
	ListFolders() []Folder
	FindProject(id int64) (Project, bool)
	FindChild(id int64) (Child, bool)
	FindFolder(id int64) (Folder, bool)
}

// Rule inspects the changes of one transaction. Blocking violations roll the
// transaction back; warnings are returned to the caller.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in evaluation order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate runs every rule in registration order and aggregates their
// violations. A rule error aborts evaluation.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		for i := range res.Violations {
			if res.Violations[i].Rule == "" {
				res.Violations[i].Rule = rule.Name()
			}
		}
		combined.Merge(res)
	}
	return combined, nil
}
