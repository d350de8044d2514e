package challsync

import (
	"context"

	"go.uber.org/zap"

	"github.com/ctfer-io/ctfd-deploy/global"
)

// Reporter receives per-record apply failures. The default routes them
// to the log; deployments that want an operator-visible channel plug
// their own in.
type Reporter interface {
	RecordFailure(ctx context.Context, key string, failure RecordFailure)
}

// LogReporter logs each failed record at warn level.
type LogReporter struct{}

var _ Reporter = LogReporter{}

func (LogReporter) RecordFailure(ctx context.Context, key string, failure RecordFailure) {
	global.Log().Warn(ctx, "challenge record not applied",
		zap.String("key", key),
		zap.String("challenge", failure.Name),
		zap.Bool("duplicate", failure.Duplicate),
		zap.Error(failure.Err),
	)
}
