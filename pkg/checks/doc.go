// Package checks turns check bodies written in other languages into
// policy.ValidateFunc values.
//
// Four adapters are provided:
//
//  1. Rego - an OPA module whose deny set lists violations
//  2. CEL - an expression over resource and config that must hold
//  3. Starlark - a validate(resource, config, report) function
//  4. WASM - a module exporting malloc, free and validate (JSON in, JSON out)
//
// Every adapter hands the body the same input document:
//
//	{
//	  "resource": {"type": ..., "name": ..., "urn": ..., "props": {...}},
//	  "config":   {...}
//	}
//
// Compilation happens once when the adapter is built; the returned function
// is safe for concurrent use unless stated otherwise.
package checks
