package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Rule is one compiled .read/.write/.validate entry: either a boolean
// literal or a compiled predicate.
type Rule struct {
	Bool *bool
	Expr *Expr
}

// RuleNode is one level of the rule tree, mirroring the data hierarchy.
// Child keys may be literal segments, "*" or "$name" variables.
type RuleNode struct {
	Read     *Rule
	Write    *Rule
	Validate *Rule
	Schema   any
	Children map[string]*RuleNode
}

// ParseTree builds a compiled rule tree from a decoded rules document.
// A top-level "rules" wrapper key is unwrapped if present.
func ParseTree(doc map[string]any) (*RuleNode, error) {
	if inner, ok := doc["rules"].(map[string]any); ok && len(doc) == 1 {
		doc = inner
	}
	return parseNode(doc, "")
}

// ParseTreeJSON decodes and compiles a JSON rules document.
func ParseTreeJSON(data []byte) (*RuleNode, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding rules document: %w", err)
	}
	return ParseTree(doc)
}

func parseNode(raw map[string]any, path string) (*RuleNode, error) {
	node := &RuleNode{}
	for key, value := range raw {
		switch key {
		case ".read", ".write", ".validate":
			rule, err := parseRule(value)
			if err != nil {
				return nil, fmt.Errorf("at %q: %w", joinRulePath(path, key), err)
			}
			switch key {
			case ".read":
				node.Read = rule
			case ".write":
				node.Write = rule
			case ".validate":
				node.Validate = rule
			}
		case ".schema":
			node.Schema = value
		default:
			if strings.HasPrefix(key, ".") {
				return nil, fmt.Errorf("unknown rule key %q at %q", key, path)
			}
			childMap, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("child %q at %q must be an object", key, path)
			}
			child, err := parseNode(childMap, joinRulePath(path, key))
			if err != nil {
				return nil, err
			}
			if node.Children == nil {
				node.Children = map[string]*RuleNode{}
			}
			node.Children[key] = child
		}
	}
	return node, nil
}

func parseRule(value any) (*Rule, error) {
	switch v := value.(type) {
	case bool:
		return &Rule{Bool: &v}, nil
	case string:
		expr, err := Compile(v)
		if err != nil {
			return nil, err
		}
		return &Rule{Expr: expr}, nil
	default:
		return nil, fmt.Errorf("rule must be a boolean or expression string, got %T", value)
	}
}

func joinRulePath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "/" + key
}
