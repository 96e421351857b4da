package workflow

import (
	"fmt"
	"strings"
)

const (
	gateKindBranchEqualsConstant = "branch-equals"
	gateKindEventIsConstant      = "event-is"
	gateKindFlagSetConstant      = "flag-set"
	gateKindAndConstant          = "and"
	gateKindOrConstant           = "or"
	gateKindNotConstant          = "not"

	invalidGateErrorMessageTemplateConstant = "invalid gate: %s"
	gateSingleKeyMessageConstant            = "gate definition must contain exactly one predicate key"
	gateStringValueTemplateConstant         = "%s predicate requires a non-empty string value"
	gateListValueTemplateConstant           = "%s combinator requires a non-empty list of gates"
	gateUnknownKindTemplateConstant         = "unknown predicate kind %q"
	gateUnknownEventTemplateConstant        = "event-is predicate references unknown event kind %q"
)

// Gate is a pure boolean predicate over the run context. Evaluation never
// performs side effects; the same gate and context always yield the same
// result.
type Gate interface {
	Evaluate(runContext RunContext) bool
	Describe() string
}

// InvalidGateError reports a malformed gate definition. It is surfaced at
// configuration load time, before any external command runs.
type InvalidGateError struct {
	Detail string
}

// Error implements the error interface.
func (gateError InvalidGateError) Error() string {
	return fmt.Sprintf(invalidGateErrorMessageTemplateConstant, gateError.Detail)
}

type branchEqualsGate struct {
	branchName string
}

func (gate branchEqualsGate) Evaluate(runContext RunContext) bool {
	return runContext.BranchName == gate.branchName
}

func (gate branchEqualsGate) Describe() string {
	return fmt.Sprintf("%s(%s)", gateKindBranchEqualsConstant, gate.branchName)
}

type eventIsGate struct {
	event EventKind
}

func (gate eventIsGate) Evaluate(runContext RunContext) bool {
	return runContext.Event == gate.event
}

func (gate eventIsGate) Describe() string {
	return fmt.Sprintf("%s(%s)", gateKindEventIsConstant, gate.event)
}

type flagSetGate struct {
	flagName string
}

func (gate flagSetGate) Evaluate(runContext RunContext) bool {
	return runContext.Flag(gate.flagName)
}

func (gate flagSetGate) Describe() string {
	return fmt.Sprintf("%s(%s)", gateKindFlagSetConstant, gate.flagName)
}

type conjunctionGate struct {
	members []Gate
}

func (gate conjunctionGate) Evaluate(runContext RunContext) bool {
	for _, member := range gate.members {
		if !member.Evaluate(runContext) {
			return false
		}
	}
	return true
}

func (gate conjunctionGate) Describe() string {
	return describeCombinator(gateKindAndConstant, gate.members)
}

type disjunctionGate struct {
	members []Gate
}

func (gate disjunctionGate) Evaluate(runContext RunContext) bool {
	for _, member := range gate.members {
		if member.Evaluate(runContext) {
			return true
		}
	}
	return false
}

func (gate disjunctionGate) Describe() string {
	return describeCombinator(gateKindOrConstant, gate.members)
}

type negationGate struct {
	member Gate
}

func (gate negationGate) Evaluate(runContext RunContext) bool {
	return !gate.member.Evaluate(runContext)
}

func (gate negationGate) Describe() string {
	return fmt.Sprintf("%s(%s)", gateKindNotConstant, gate.member.Describe())
}

func describeCombinator(kind string, members []Gate) string {
	descriptions := make([]string, 0, len(members))
	for _, member := range members {
		descriptions = append(descriptions, member.Describe())
	}
	return fmt.Sprintf("%s(%s)", kind, strings.Join(descriptions, ", "))
}

// BranchEqualsGate builds a predicate matching the run branch name.
func BranchEqualsGate(branchName string) Gate {
	return branchEqualsGate{branchName: strings.TrimSpace(branchName)}
}

// EventIsGate builds a predicate matching the run trigger event.
func EventIsGate(event EventKind) Gate {
	return eventIsGate{event: event}
}

// FlagSetGate builds a predicate matching a custom run flag.
func FlagSetGate(flagName string) Gate {
	return flagSetGate{flagName: strings.TrimSpace(flagName)}
}

// AndGate builds a conjunction over the provided gates.
func AndGate(members ...Gate) Gate {
	return conjunctionGate{members: members}
}

// OrGate builds a disjunction over the provided gates.
func OrGate(members ...Gate) Gate {
	return disjunctionGate{members: members}
}

// NotGate builds a negation of the provided gate.
func NotGate(member Gate) Gate {
	return negationGate{member: member}
}

// ParseGateDefinition converts a decoded YAML gate mapping into a Gate tree.
// Unknown predicate kinds and malformed shapes fail with InvalidGateError so
// configuration mistakes surface before execution.
func ParseGateDefinition(definition any) (Gate, error) {
	mapping, mappingAvailable := normalizeGateMapping(definition)
	if !mappingAvailable || len(mapping) != 1 {
		return nil, InvalidGateError{Detail: gateSingleKeyMessageConstant}
	}

	for predicateKind, predicateValue := range mapping {
		normalizedKind := strings.TrimSpace(strings.ToLower(predicateKind))
		switch normalizedKind {
		case gateKindBranchEqualsConstant:
			branchName, valueError := gateStringValue(normalizedKind, predicateValue)
			if valueError != nil {
				return nil, valueError
			}
			return BranchEqualsGate(branchName), nil
		case gateKindEventIsConstant:
			eventName, valueError := gateStringValue(normalizedKind, predicateValue)
			if valueError != nil {
				return nil, valueError
			}
			event := EventKind(strings.TrimSpace(eventName))
			if !KnownEventKind(event) {
				return nil, InvalidGateError{Detail: fmt.Sprintf(gateUnknownEventTemplateConstant, eventName)}
			}
			return EventIsGate(event), nil
		case gateKindFlagSetConstant:
			flagName, valueError := gateStringValue(normalizedKind, predicateValue)
			if valueError != nil {
				return nil, valueError
			}
			return FlagSetGate(flagName), nil
		case gateKindAndConstant, gateKindOrConstant:
			members, membersError := gateMemberList(normalizedKind, predicateValue)
			if membersError != nil {
				return nil, membersError
			}
			if normalizedKind == gateKindAndConstant {
				return AndGate(members...), nil
			}
			return OrGate(members...), nil
		case gateKindNotConstant:
			member, memberError := ParseGateDefinition(predicateValue)
			if memberError != nil {
				return nil, memberError
			}
			return NotGate(member), nil
		default:
			return nil, InvalidGateError{Detail: fmt.Sprintf(gateUnknownKindTemplateConstant, predicateKind)}
		}
	}

	return nil, InvalidGateError{Detail: gateSingleKeyMessageConstant}
}

func normalizeGateMapping(definition any) (map[string]any, bool) {
	switch typedDefinition := definition.(type) {
	case map[string]any:
		return typedDefinition, true
	case map[any]any:
		normalized := make(map[string]any, len(typedDefinition))
		for rawKey, rawValue := range typedDefinition {
			stringKey, stringKeyAvailable := rawKey.(string)
			if !stringKeyAvailable {
				return nil, false
			}
			normalized[stringKey] = rawValue
		}
		return normalized, true
	default:
		return nil, false
	}
}

func gateStringValue(predicateKind string, predicateValue any) (string, error) {
	stringValue, stringValueAvailable := predicateValue.(string)
	if !stringValueAvailable || len(strings.TrimSpace(stringValue)) == 0 {
		return "", InvalidGateError{Detail: fmt.Sprintf(gateStringValueTemplateConstant, predicateKind)}
	}
	return strings.TrimSpace(stringValue), nil
}

func gateMemberList(combinatorKind string, combinatorValue any) ([]Gate, error) {
	memberValues, memberValuesAvailable := combinatorValue.([]any)
	if !memberValuesAvailable || len(memberValues) == 0 {
		return nil, InvalidGateError{Detail: fmt.Sprintf(gateListValueTemplateConstant, combinatorKind)}
	}

	members := make([]Gate, 0, len(memberValues))
	for _, memberValue := range memberValues {
		member, memberError := ParseGateDefinition(memberValue)
		if memberError != nil {
			return nil, memberError
		}
		members = append(members, member)
	}
	return members, nil
}
