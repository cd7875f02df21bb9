// Package tools holds the registry of functions a machine exposes for
// remote invocation.
//
// Invariants:
// - Tool names are unique within a registry.
// - Registration is rejected while the owning agent is running.
// - Input schemas are compiled and validated at registration time.
//
// Usage:
//
//	reg := tools.NewRegistry()
//	_ = reg.Register(tools.Tool{
//		Name:        "echo",
//		Description: "Echo input back",
//		InputSchema: map[string]interface{}{
//			"type":       "object",
//			"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
//		},
//		Handler: tools.HandlerFunc(func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
//			return input["text"], nil
//		}),
//	})
package tools
