package events

import (
	"context"
	"encoding/json"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// AttachRuntime mirrors every bus event to the Wails runtime so the
// frontend receives the same catalog the backend consumes. Returns a detach
// func for shutdown.
func AttachRuntime(ctx context.Context, bus *Bus) func() {
	return bus.Subscribe(Any, func(args ...any) {
		name, ok := args[0].(string)
		if !ok {
			return
		}
		payload := args[1:]
		logRuntimeEvent(ctx, name, payload)
		runtime.EventsEmit(ctx, name, payload...)
	})
}

func logRuntimeEvent(ctx context.Context, name string, payload []any) {
	// Streaming deltas arrive per token and would flood the log.
	if name == MessageUpdated {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		runtime.LogError(ctx, "events: failed to marshal "+name+": "+err.Error())
		return
	}
	runtime.LogDebug(ctx, name+" "+string(data))
}
