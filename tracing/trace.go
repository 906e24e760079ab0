//go:build trace

package tracing

import (
	"context"
	"os"
	"runtime/trace"
)

var traceFile *os.File

// Start enables runtime tracing into path.
func Start(path string) error {
	if path == "" {
		path = "flatbatch-trace.out"
	}
	var err error
	traceFile, err = os.Create(path)
	if err != nil {
		return err
	}
	return trace.Start(traceFile)
}

func Stop() {
	trace.Stop()
	if traceFile != nil {
		traceFile.Close()
		traceFile = nil
	}
}

// StartTask begins a trace task, one per converted pair.
func StartTask(ctx context.Context, name string) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, name)
	return ctx, task.End
}

func StartRegion(ctx context.Context, name string) func() {
	region := trace.StartRegion(ctx, name)
	return region.End
}

func Log(ctx context.Context, category, message string) {
	trace.Log(ctx, category, message)
}
