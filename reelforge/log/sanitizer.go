package log

import (
	"context"
	"fmt"
)

// SafeError logs err at error level. When production is true only the error
// type is logged, keeping provider messages and URLs out of shared logs.
func SafeError(logger Logger, ctx context.Context, msg string, err error, production bool, fields ...Field) {
	if logger == nil || err == nil || !logger.Enabled(LevelError) {
		return
	}

	if production {
		logger.Log(ctx, LevelError, msg, append(fields, String("error_type", fmt.Sprintf("%T", err)))...)
		return
	}

	logger.Log(ctx, LevelError, msg, append(fields, Err(err))...)
}
