package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

// WASMConfig bounds a WASM check module.
type WASMConfig struct {
	// Timeout caps each validate call.
	Timeout time.Duration

	// MemoryLimitPages caps linear memory in 64KiB pages.
	MemoryLimitPages uint32
}

// WASMCheck is an instantiated WASM check module. The module must export
// memory, malloc(size) -> ptr, free(ptr) and validate(ptr, len) -> u64, where
// the result packs the output pointer in the high 32 bits and its length in
// the low 32 bits. The output is a JSON object {"violations": [...]}.
type WASMCheck struct {
	mu       sync.Mutex
	runtime  wazero.Runtime
	module   api.Module
	memory   api.Memory
	malloc   api.Function
	free     api.Function
	validate api.Function
	timeout  time.Duration
}

// NewWASMCheck compiles and instantiates wasmModule.
func NewWASMCheck(ctx context.Context, wasmModule []byte, cfg WASMConfig) (*WASMCheck, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256 // 16MB
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	module, err := runtime.Instantiate(ctx, wasmModule)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	c := &WASMCheck{
		runtime: runtime,
		module:  module,
		timeout: cfg.Timeout,
	}
	if err := c.bindExports(); err != nil {
		runtime.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *WASMCheck) bindExports() error {
	c.memory = c.module.Memory()
	if c.memory == nil {
		return fmt.Errorf("WASM module does not export memory")
	}

	c.malloc = c.module.ExportedFunction("malloc")
	if c.malloc == nil {
		return fmt.Errorf("WASM module does not export malloc function")
	}

	c.free = c.module.ExportedFunction("free")
	if c.free == nil {
		return fmt.Errorf("WASM module does not export free function")
	}

	c.validate = c.module.ExportedFunction("validate")
	if c.validate == nil {
		return fmt.Errorf("WASM module does not export validate function")
	}
	return nil
}

// Validate is the check body. Calls are serialised because a module instance
// has a single linear memory.
func (c *WASMCheck) Validate(ctx context.Context, resource policy.Resource, config policy.Config, report policy.ReportFunc) error {
	input, err := json.Marshal(Input(resource, config))
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	output, err := c.call(ctx, input)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("validate failed: %w", err)
	}

	var result struct {
		Violations []string `json:"violations"`
		Error      string   `json:"error,omitempty"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return fmt.Errorf("failed to unmarshal validate result: %w", err)
	}
	if result.Error != "" {
		return fmt.Errorf("check error: %s", result.Error)
	}

	for _, v := range result.Violations {
		report(v)
	}
	return nil
}

// Close releases the module and its runtime.
func (c *WASMCheck) Close(ctx context.Context) error {
	return c.runtime.Close(ctx)
}

// call passes input by pointer and length and reads the packed result.
func (c *WASMCheck) call(ctx context.Context, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := c.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		defer c.deallocate(ctx, ptr)

		inputPtr = ptr
		inputLen = uint32(len(input))

		if !c.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := c.validate.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)

	if outputLen == 0 {
		return []byte("{}"), nil
	}

	view, ok := c.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	// Read returns a view into linear memory; copy before freeing.
	output := append([]byte(nil), view...)

	_ = c.deallocate(ctx, outputPtr)

	return output, nil
}

func (c *WASMCheck) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := c.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}

	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return ptr, nil
}

func (c *WASMCheck) deallocate(ctx context.Context, ptr uint32) error {
	if _, err := c.free.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("free failed: %w", err)
	}
	return nil
}
