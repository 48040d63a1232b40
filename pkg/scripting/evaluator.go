// Package scripting evaluates ${...} expressions in workflow run input
// using an embedded JavaScript engine.
package scripting

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robertkrimen/otto"
)

// placeholderPattern matches ${...} segments embedded in template
// strings. Placeholders in templates cannot contain '}'; use a
// whole-string expression for object literals.
var placeholderPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// Evaluator runs JavaScript expressions against a context map. A fresh
// VM is created per evaluation so context never leaks between calls and
// the evaluator is safe for concurrent use.
type Evaluator struct{}

// NewEvaluator creates a JavaScript expression evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate processes an expression string with the given context.
//
// A string that is exactly one ${...} placeholder evaluates to the
// expression's native value. A string with placeholders embedded in
// literal text is treated as a template, with each result spliced in as
// text. Strings without placeholders pass through unchanged.
func (e *Evaluator) Evaluate(expression string, context map[string]interface{}) (interface{}, error) {
	if wholeExpression(expression) {
		return e.run(expression[2:len(expression)-1], context)
	}

	matches := placeholderPattern.FindAllStringSubmatchIndex(expression, -1)
	if len(matches) == 0 {
		return expression, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(expression[last:m[0]])

		value, err := e.run(expression[m[2]:m[3]], context)
		if err != nil {
			return nil, err
		}
		b.WriteString(fmt.Sprintf("%v", value))

		last = m[1]
	}
	b.WriteString(expression[last:])

	return b.String(), nil
}

// EvaluateInObject processes all expressions in an object, recursing
// into nested maps and arrays. Keys that are expressions are evaluated
// and stringified.
func (e *Evaluator) EvaluateInObject(obj map[string]interface{}, context map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{})

	for key, value := range obj {
		evaluatedKey := key
		if wholeExpression(key) {
			keyResult, err := e.Evaluate(key, context)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate key expression '%s': %w", key, err)
			}
			evaluatedKey = fmt.Sprintf("%v", keyResult)
		}

		evaluated, err := e.evaluateValue(value, context)
		if err != nil {
			return nil, err
		}

		result[evaluatedKey] = evaluated
	}

	return result, nil
}

func (e *Evaluator) evaluateValue(value interface{}, context map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		evaluated, err := e.Evaluate(v, context)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate expression '%s': %w", v, err)
		}
		return evaluated, nil
	case map[string]interface{}:
		return e.EvaluateInObject(v, context)
	case []interface{}:
		evaluated := make([]interface{}, len(v))
		for i, item := range v {
			itemResult, err := e.evaluateValue(item, context)
			if err != nil {
				return nil, err
			}
			evaluated[i] = itemResult
		}
		return evaluated, nil
	default:
		return value, nil
	}
}

// run executes one expression in a fresh VM seeded with the context.
func (e *Evaluator) run(expr string, context map[string]interface{}) (interface{}, error) {
	vm := otto.New()

	for key, value := range context {
		if err := vm.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set context variable '%s': %w", key, err)
		}
	}

	result, err := vm.Run(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression '%s': %w", expr, err)
	}

	goValue, err := result.Export()
	if err != nil {
		return nil, fmt.Errorf("failed to convert result to Go value: %w", err)
	}

	return goValue, nil
}

// wholeExpression reports whether the string is a single ${...}
// expression rather than a template with embedded placeholders.
func wholeExpression(s string) bool {
	return strings.HasPrefix(s, "${") &&
		strings.HasSuffix(s, "}") &&
		strings.Count(s, "${") == 1
}
