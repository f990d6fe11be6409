package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RuleType is the wire discriminator for rule items.
type RuleType int

const (
	RuleTypeTrigger RuleType = iota
	RuleTypeCondition
	RuleTypeFunction
	RuleTypeOutput
)

func (t RuleType) String() string {
	switch t {
	case RuleTypeTrigger:
		return "trigger"
	case RuleTypeCondition:
		return "condition"
	case RuleTypeFunction:
		return "function"
	case RuleTypeOutput:
		return "output"
	default:
		return fmt.Sprintf("ruleType(%d)", int(t))
	}
}

// RuleItem is one step of a rule pipeline. The set of variants is closed:
// RuleTrigger, RuleCondition, RuleFunction and RuleOutput.
type RuleItem interface {
	ItemType() RuleType
	ruleItem()
}

// RuleTrigger starts a rule when a report with ReportID (and Filter, when
// both sides carry one) arrives.
type RuleTrigger struct {
	ReportID string `json:"reportId"`
	Filter   string `json:"filter,omitempty"`
}

// ConditionExpression compares one field of the running value.
type ConditionExpression struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Required bool   `json:"required"`
}

// RuleCondition gates the pipeline; an empty condition list passes.
type RuleCondition struct {
	Conditions []ConditionExpression `json:"conditions"`
	Logic      string                `json:"logic,omitempty"`
}

// RuleFunction transforms the running value.
type RuleFunction struct {
	FunctionID string         `json:"functionId"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// RuleOutput emits the running value to a command or variable.
type RuleOutput struct {
	CommandID string          `json:"commandId"`
	Operation OutputOperation `json:"operation"`
}

func (RuleTrigger) ItemType() RuleType   { return RuleTypeTrigger }
func (RuleCondition) ItemType() RuleType { return RuleTypeCondition }
func (RuleFunction) ItemType() RuleType  { return RuleTypeFunction }
func (RuleOutput) ItemType() RuleType    { return RuleTypeOutput }

func (RuleTrigger) ruleItem()   {}
func (RuleCondition) ruleItem() {}
func (RuleFunction) ruleItem()  {}
func (RuleOutput) ruleItem()    {}

// Rule is a persisted automation pipeline.
type Rule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"isActive"`
	Tags        []string   `json:"tags,omitempty"`
	DataModel   any        `json:"dataModel,omitempty"`
	Items       []RuleItem `json:"ruleItems"`
}

// Trigger returns the rule's first item when it is a trigger.
func (r *Rule) Trigger() (RuleTrigger, bool) {
	if len(r.Items) == 0 {
		return RuleTrigger{}, false
	}
	t, ok := r.Items[0].(RuleTrigger)
	return t, ok
}

// Validate checks the structural shape of a rule: a leading trigger, at least
// one more item, and non-empty references.
func (r *Rule) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(r.Items) < 2 {
		errs = append(errs, errors.New("a rule needs a trigger and at least one further item"))
	}
	for i, item := range r.Items {
		switch it := item.(type) {
		case RuleTrigger:
			if i != 0 {
				errs = append(errs, fmt.Errorf("item %d: trigger must be the first item", i))
			}
			if it.ReportID == "" {
				errs = append(errs, fmt.Errorf("item %d: trigger has no report id", i))
			}
		case RuleCondition:
			if i == 0 {
				errs = append(errs, errors.New("item 0: first item must be a trigger"))
			}
			if it.Logic != "" && it.Logic != "and" && it.Logic != "or" {
				errs = append(errs, fmt.Errorf("item %d: unsupported logic %q", i, it.Logic))
			}
		case RuleFunction:
			if i == 0 {
				errs = append(errs, errors.New("item 0: first item must be a trigger"))
			}
			if it.FunctionID == "" {
				errs = append(errs, fmt.Errorf("item %d: function has no id", i))
			}
		case RuleOutput:
			if i == 0 {
				errs = append(errs, errors.New("item 0: first item must be a trigger"))
			}
			if it.CommandID == "" {
				errs = append(errs, fmt.Errorf("item %d: output has no command id", i))
			}
		}
	}
	return errors.Join(errs...)
}

type ruleJSON struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	IsActive    bool              `json:"isActive"`
	Tags        []string          `json:"tags,omitempty"`
	DataModel   any               `json:"dataModel,omitempty"`
	Items       []json.RawMessage `json:"ruleItems"`
}

var itemDecoders = map[RuleType]func(json.RawMessage) (RuleItem, error){
	RuleTypeTrigger:   decodeItem[RuleTrigger],
	RuleTypeCondition: decodeItem[RuleCondition],
	RuleTypeFunction:  decodeItem[RuleFunction],
	RuleTypeOutput:    decodeItem[RuleOutput],
}

func decodeItem[T RuleItem](raw json.RawMessage) (RuleItem, error) {
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// DecodeRuleItem decodes a single item by its ruleType discriminator.
func DecodeRuleItem(raw json.RawMessage) (RuleItem, error) {
	var head struct {
		RuleType *RuleType `json:"ruleType"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	if head.RuleType == nil {
		return nil, errors.New("rule item has no ruleType")
	}
	dec, ok := itemDecoders[*head.RuleType]
	if !ok {
		return nil, fmt.Errorf("unknown ruleType %d", int(*head.RuleType))
	}
	return dec(raw)
}

// EncodeRuleItem encodes an item with its ruleType discriminator.
func EncodeRuleItem(item RuleItem) (json.RawMessage, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["ruleType"] = int(item.ItemType())
	return json.Marshal(fields)
}

func (r Rule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsActive:    r.IsActive,
		Tags:        r.Tags,
		DataModel:   r.DataModel,
		Items:       make([]json.RawMessage, 0, len(r.Items)),
	}
	for i, item := range r.Items {
		raw, err := EncodeRuleItem(item)
		if err != nil {
			return nil, fmt.Errorf("rule item %d: %w", i, err)
		}
		out.Items = append(out.Items, raw)
	}
	return json.Marshal(out)
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	items := make([]RuleItem, 0, len(in.Items))
	for i, raw := range in.Items {
		item, err := DecodeRuleItem(raw)
		if err != nil {
			return fmt.Errorf("rule item %d: %w", i, err)
		}
		items = append(items, item)
	}
	*r = Rule{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		IsActive:    in.IsActive,
		Tags:        in.Tags,
		DataModel:   in.DataModel,
		Items:       items,
	}
	return nil
}
