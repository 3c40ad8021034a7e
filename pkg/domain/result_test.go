package domain

import (
	"context"
	"errors"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if err.Error() == "" {
		t.Fatalf("expected error string")
	}
	if KindOf(err) != KindConflict {
		t.Fatalf("expected rule violations to classify as conflict, got %s", KindOf(err))
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
	if names := engine.Rules(); len(names) != 1 || names[0] != "warn" {
		t.Fatalf("unexpected rule names %v", names)
	}
}

func TestRulesEngineEvaluatePropagatesError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(failingRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected rule error")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type failingRule struct{}

func (failingRule) Name() string { return "failing" }

func (failingRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, errors.New("boom")
}

type emptyView struct{}

func (emptyView) ListProjects() []Project           { return nil }
func (emptyView) ListFolders() []Folder             { return nil }
func (emptyView) FindProject(int64) (Project, bool) { return Project{}, false }
func (emptyView) FindChild(int64) (Child, bool)     { return Child{}, false }
func (emptyView) FindFolder(int64) (Folder, bool)   { return Folder{}, false }
