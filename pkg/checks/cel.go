package checks

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

// CELRule is a check body written as a CEL expression.
//
// A boolean expression states the compliant condition: false reports Message.
// A list expression yields the violation messages themselves.
type CELRule struct {
	Expr    string
	Message string
}

var (
	celEnv          = mustCELEnv()
	stringSliceType = reflect.TypeOf([]string{})
)

func mustCELEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("config", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	return env
}

// CEL compiles rule and returns its check body.
func CEL(rule CELRule) (policy.ValidateFunc, error) {
	ast, issues := celEnv.Compile(rule.Expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}

	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}

	message := rule.Message
	if message == "" {
		message = fmt.Sprintf("condition %q does not hold", rule.Expr)
	}

	return func(ctx context.Context, resource policy.Resource, config policy.Config, report policy.ReportFunc) error {
		out, _, err := prg.ContextEval(ctx, Input(resource, config))
		if err != nil {
			return fmt.Errorf("CEL evaluation error: %w", err)
		}
		return reportCELResult(out, message, report)
	}, nil
}

func reportCELResult(out ref.Val, message string, report policy.ReportFunc) error {
	switch v := out.Value().(type) {
	case bool:
		if !v {
			report(message)
		}
		return nil
	}

	native, err := out.ConvertToNative(stringSliceType)
	if err != nil {
		return fmt.Errorf("CEL expression must return bool or list of strings, got %s", out.Type().TypeName())
	}
	for _, msg := range native.([]string) {
		report(msg)
	}
	return nil
}
