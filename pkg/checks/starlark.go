package checks

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

// Starlark wraps a Starlark callable with the signature
// validate(resource, config, report). Each invocation runs on a fresh thread,
// so the callable must only close over frozen values.
func Starlark(name string, fn starlark.Callable) policy.ValidateFunc {
	return func(ctx context.Context, resource policy.Resource, config policy.Config, report policy.ReportFunc) error {
		input := Input(resource, config)

		res, err := ToStarlarkValue(input["resource"])
		if err != nil {
			return fmt.Errorf("failed to convert resource: %w", err)
		}
		cfg, err := ToStarlarkValue(input["config"])
		if err != nil {
			return fmt.Errorf("failed to convert config: %w", err)
		}

		reportFn := starlark.NewBuiltin("report", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var msg string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
				return nil, err
			}
			report(msg)
			return starlark.None, nil
		})

		thread := &starlark.Thread{
			Name:  name,
			Print: func(_ *starlark.Thread, _ string) {},
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				thread.Cancel(ctx.Err().Error())
			case <-done:
			}
		}()

		if _, err := starlark.Call(thread, fn, starlark.Tuple{res, cfg, reportFn}, nil); err != nil {
			return fmt.Errorf("starlark check %s failed: %w", name, err)
		}
		return nil
	}
}

// StarlarkSource executes src and wraps its top-level function fnName. The
// module globals are frozen afterwards, since the returned check may run
// concurrently; a body that mutates module state fails instead of racing.
func StarlarkSource(filename, src, fnName string) (policy.ValidateFunc, error) {
	thread := &starlark.Thread{Name: filename}
	globals, err := starlark.ExecFile(thread, filename, src, starlark.StringDict{
		"struct": starlarkstruct.Default,
	})
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	globals.Freeze()

	fn, ok := globals[fnName].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s does not define a callable %q", filename, fnName)
	}
	return Starlark(fnName, fn), nil
}

// ToStarlarkValue converts a Go value to a Starlark value.
func ToStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := ToStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := ToStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case policy.Config:
		return ToStarlarkValue(map[string]interface{}(val))
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// FromStarlarkValue converts a Starlark value to a Go value.
func FromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := FromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := FromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := FromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := FromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
