package core

import "rua/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in integrity rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(LifecycleTransitionRule())
	engine.Register(FolderMembershipRule())
	engine.Register(OrderNumberRule())
	engine.Register(ApplicantGroupRule())
	return engine
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
