package core

import "carecore/pkg/domain"

// Rule defines an evaluation executed within a transaction boundary.
type Rule = domain.Rule

// RulesEngine orchestrates rule evaluation.
type RulesEngine = domain.RulesEngine

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in invariant set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewTaskSetRule())
	engine.Register(NewOwnerImmutableRule())
	return engine
}
