package rules

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

var ErrRuleNotFound = errors.New("rules: rule not found")

// RuleSource looks up stored rules by id.
type RuleSource interface {
	Rule(id string) (*model.Rule, bool)
}

// Sink receives the combined outputs of all rules evaluated for one report.
type Sink func(results []model.RuleEvaluationResult)

// LogFunc is the signature for log output.
type LogFunc func(format string, args ...any)

// Processor runs rule item sequences.
type Processor struct {
	functions  *FunctionLibrary
	conditions *ConditionEvaluator
	logFn      LogFunc

	// OnRuleError, when set, is called for every rule that fails.
	OnRuleError func(ruleID string, err error)
}

func NewProcessor(functions *FunctionLibrary) *Processor {
	if functions == nil {
		functions = NewFunctionLibrary()
	}
	return &Processor{
		functions:  functions,
		conditions: NewConditionEvaluator(),
		logFn:      log.Printf,
	}
}

// SetLogFunc replaces the logger.
func (p *Processor) SetLogFunc(fn LogFunc) { p.logFn = fn }

func (p *Processor) Functions() *FunctionLibrary { return p.functions }

// ProcessReport evaluates every candidate rule against report and hands all
// outputs to sink in one call. A failing rule is logged and contributes no
// output; the others are unaffected.
func (p *Processor) ProcessReport(ctx context.Context, report model.Report, candidates []*model.Rule, sink Sink) {
	var batch []model.RuleEvaluationResult
	for _, rule := range candidates {
		results, err := p.Evaluate(ctx, rule, report.Value)
		if err != nil {
			p.logFn("rules: rule %s (%s) failed for report %s: %v", rule.ID, rule.Name, report.ID, err)
			if p.OnRuleError != nil {
				p.OnRuleError(rule.ID, err)
			}
			continue
		}
		batch = append(batch, results...)
	}
	if sink != nil {
		sink(batch)
	}
}

// Evaluate runs the items after the trigger with input as the starting
// value. A failed condition ends the rule with no results and no error.
func (p *Processor) Evaluate(ctx context.Context, rule *model.Rule, input any) (results []model.RuleEvaluationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	value := input
	for i, item := range rule.Items {
		if i == 0 {
			if _, ok := item.(model.RuleTrigger); ok {
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch it := item.(type) {
		case model.RuleTrigger:
			// Only the leading trigger has meaning.
		case model.RuleCondition:
			ok, err := p.conditions.Evaluate(value, it)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			if !ok {
				return nil, nil
			}
		case model.RuleFunction:
			value, err = p.functions.Run(ctx, it.FunctionID, value, it.Parameters)
			if err != nil {
				return nil, fmt.Errorf("item %d (%s): %w", i, it.FunctionID, err)
			}
		case model.RuleOutput:
			results = append(results, model.RuleEvaluationResult{
				CommandID: it.CommandID,
				Value:     value,
				Operation: it.Operation,
			})
		default:
			return nil, fmt.Errorf("item %d: unsupported item %T", i, item)
		}
	}
	return results, nil
}

// RunRuleSimulation evaluates one stored rule against input and returns its
// outputs without delivering them anywhere.
func (p *Processor) RunRuleSimulation(ctx context.Context, src RuleSource, ruleID string, input any) ([]model.RuleEvaluationResult, error) {
	rule, ok := src.Rule(ruleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	results, err := p.Evaluate(ctx, rule, input)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.RuleEvaluationResult{}
	}
	return results, nil
}
