package checks

import (
	"context"
	"strings"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

// Input builds the document every adapter evaluates against.
func Input(resource policy.Resource, config policy.Config) map[string]any {
	props := resource.Props
	if props == nil {
		props = map[string]any{}
	}
	cfg := map[string]any(config)
	if cfg == nil {
		cfg = map[string]any{}
	}

	return map[string]any{
		"resource": map[string]any{
			"type":  resource.Type,
			"name":  resource.Name,
			"urn":   resource.URN,
			"props": props,
		},
		"config": cfg,
	}
}

// ForType restricts fn to resources whose type token equals resourceType.
// Other resources pass without fn being called.
func ForType(resourceType string, fn policy.ValidateFunc) policy.ValidateFunc {
	return func(ctx context.Context, resource policy.Resource, config policy.Config, report policy.ReportFunc) error {
		if resource.Type != resourceType {
			return nil
		}
		return fn(ctx, resource, config, report)
	}
}

// ForTypePrefix is like ForType but matches a type token prefix such as
// "aws:s3/".
func ForTypePrefix(prefix string, fn policy.ValidateFunc) policy.ValidateFunc {
	return func(ctx context.Context, resource policy.Resource, config policy.Config, report policy.ReportFunc) error {
		if !strings.HasPrefix(resource.Type, prefix) {
			return nil
		}
		return fn(ctx, resource, config, report)
	}
}

// Collect runs fn against resource and returns the reported messages.
func Collect(ctx context.Context, fn policy.ValidateFunc, resource policy.Resource, config policy.Config) ([]string, error) {
	var messages []string
	err := fn(ctx, resource, config, func(message string) {
		messages = append(messages, message)
	})
	return messages, err
}
