package sizing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

// ErrSizeFunctionMissing is returned when a script does not define size().
var ErrSizeFunctionMissing = errors.New("sizing script: size function not defined")

// Script runs a JavaScript size(account, instruction) function. The runtime is
// not goroutine-safe, so calls are serialised.
type Script struct {
	mu   sync.Mutex
	path string
	rt   *goja.Runtime
	fn   goja.Callable
}

// LoadScript reads and compiles the script at path.
func LoadScript(path string) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sizing script: read %s: %w", path, err)
	}
	return CompileScript(path, string(src))
}

// CompileScript compiles src and resolves its global size function.
func CompileScript(name, src string) (*Script, error) {
	program, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("sizing script: compile %s: %w", name, err)
	}
	rt := goja.New()
	if _, err := rt.RunProgram(program); err != nil {
		return nil, fmt.Errorf("sizing script: execute %s: %w", name, err)
	}
	value := rt.Get("size")
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, ErrSizeFunctionMissing
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("sizing script: size is not callable")
	}
	return &Script{path: name, rt: rt, fn: fn}, nil
}

// Size implements Sizer. The result is truncated toward zero; non-finite
// results and magnitudes beyond math.MaxInt32 are errors. Cancelling ctx interrupts a running script.
func (s *Script) Size(ctx context.Context, account schema.AccountRecord, instruction schema.Instruction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.rt.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		s.rt.ClearInterrupt()
	}()

	res, err := s.fn(goja.Undefined(),
		s.rt.ToValue(accountView(account)),
		s.rt.ToValue(instructionView(instruction)))
	if err != nil {
		return 0, fmt.Errorf("sizing script %s: %w", s.path, err)
	}
	f := res.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("sizing script %s: size returned %s", s.path, res.String())
	}
	return int(f), nil
}

// accountView exposes the account to scripts without credentials.
func accountView(a schema.AccountRecord) map[string]any {
	return map[string]any{
		"id":      a.ID,
		"broker":  a.Broker,
		"name":    a.Name(),
		"capital": a.Capital,
	}
}

func instructionView(ins schema.Instruction) map[string]any {
	return map[string]any{
		"exchange":     ins.Instrument.Exchange,
		"symbol":       ins.Instrument.Symbol,
		"securityId":   ins.Instrument.SecurityID,
		"action":       string(ins.Action),
		"orderType":    string(ins.OrderType),
		"productType":  strings.ToUpper(ins.ProductType),
		"price":        ins.Price,
		"triggerPrice": ins.TriggerPrice,
		"quantity":     ins.Quantity,
	}
}
