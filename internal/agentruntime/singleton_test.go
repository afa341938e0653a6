package agentruntime

import (
	"context"
	"testing"
)

type noopRuntime struct{}

func (noopRuntime) StorePath() string { return "" }
func (noopRuntime) ResolveRoute(context.Context, RouteRequest) (Route, error) {
	return Route{}, nil
}
func (noopRuntime) FormatEnvelope(_ RouteRequest, text string) string { return text }
func (noopRuntime) FinalizeContext(*DispatchContext)                  {}
func (noopRuntime) RecordSession(context.Context, SessionMeta) error  { return nil }
func (noopRuntime) Dispatch(context.Context, DispatchContext, DeliverFunc, ErrorFunc) error {
	return nil
}

func TestSingleton(t *testing.T) {
	if Configured() {
		t.Fatalf("runtime must start unconfigured")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("Get before Set must panic")
		}

		Set(noopRuntime{})
		if !Configured() {
			t.Fatalf("Configured must report true after Set")
		}
		if Get() == nil {
			t.Fatalf("Get must return the injected runtime")
		}
	}()
	_ = Get()
}
