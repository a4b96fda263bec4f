package runtime

import (
	"context"
	"runtime/debug"

	"github.com/LerianStudio/lib-reelforge/reelforge/log"
)

// Logger is the minimal logging interface required by runtime.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

// RecoverWithPolicyAndContext recovers a panic, records it to every configured
// sink and then applies policy. Use it in a defer.
func RecoverWithPolicyAndContext(ctx context.Context, logger Logger, component, name string, policy PanicPolicy) {
	if recovered := recover(); recovered != nil {
		stack := debug.Stack()
		logPanicWithStack(ctx, logger, name, recovered, stack)
		recordPanicObservability(ctx, recovered, stack, component, name)

		if policy == CrashProcess {
			panic(recovered)
		}
	}
}

// HandlePanicValue records a panic value that was already recovered by the
// caller, without calling recover itself.
func HandlePanicValue(ctx context.Context, logger Logger, panicValue any, component, name string) {
	if panicValue == nil {
		return
	}

	stack := debug.Stack()
	logPanicWithStack(ctx, logger, name, panicValue, stack)
	recordPanicObservability(ctx, panicValue, stack, component, name)
}

func logPanicWithStack(ctx context.Context, logger Logger, name string, panicValue any, stack []byte) {
	if logger == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger.Log(ctx, log.LevelError, "panic recovered",
		log.String("source", name),
		log.String("panic_value", formatPanicValue(panicValue)),
		log.String("stack_trace", string(stack)),
	)
}

func recordPanicObservability(ctx context.Context, panicValue any, stack []byte, component, name string) {
	recordPanicMetric(ctx, component, name)
	RecordPanicToSpanWithComponent(ctx, panicValue, stack, component, name)
	reportPanicToErrorService(ctx, panicValue, stack, component, name)
}
