// Package logger provides context-scoped structured logging over logrus,
// matching the internal/logger package WeKnora's handlers and pipeline
// plugins call into (logger.GetLogger(ctx), logger.Info/Warn/Error,
// logger.CloneContext).
package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.JSONFormatter{})
}

// WithFields returns a context carrying a logger pre-populated with fields,
// so downstream calls in the same request automatically carry them
// (request id, user id, channel id).
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	entry := GetLogger(ctx).WithFields(fields)
	return context.WithValue(ctx, ctxKey{}, entry)
}

// GetLogger returns the logger attached to ctx, or the package base logger
// as a *logrus.Entry if none is attached.
func GetLogger(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(base)
}

// CloneContext detaches ctx's logger from its deadline/cancellation so it
// can still be logged from after the original context is done (e.g. in a
// deferred cleanup after a request's context was cancelled).
func CloneContext(ctx context.Context) context.Context {
	entry := GetLogger(ctx)
	return context.WithValue(context.Background(), ctxKey{}, entry)
}

func Info(ctx context.Context, msg string, kv ...interface{})  { logWithKV(ctx, logrus.InfoLevel, msg, kv) }
func Warn(ctx context.Context, msg string, kv ...interface{})  { logWithKV(ctx, logrus.WarnLevel, msg, kv) }
func Error(ctx context.Context, msg string, kv ...interface{}) { logWithKV(ctx, logrus.ErrorLevel, msg, kv) }
func Debug(ctx context.Context, msg string, kv ...interface{}) { logWithKV(ctx, logrus.DebugLevel, msg, kv) }

func logWithKV(ctx context.Context, level logrus.Level, msg string, kv []interface{}) {
	entry := GetLogger(ctx)
	if len(kv) > 0 {
		fields := logrus.Fields{}
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			fields[key] = kv[i+1]
		}
		entry = entry.WithFields(fields)
	}
	entry.Log(level, msg)
}

// Infof, Warnf, Errorf mirror the printf-style helpers the teacher's chat
// model clients use (logger.GetLogger(ctx).Infof(...)).
func Infof(ctx context.Context, format string, args ...interface{}) {
	GetLogger(ctx).Infof(format, args...)
}

func Warnf(ctx context.Context, format string, args ...interface{}) {
	GetLogger(ctx).Warnf(format, args...)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	GetLogger(ctx).Errorf(format, args...)
}

// PipelineInfo/PipelineWarn/PipelineError log a pipeline stage transition,
// generalizing the common.PipelineInfo family the teacher's chat pipeline
// plugins call into. The orchestrator's own stages are plain functions,
// not plugins, but log through the same stage/action shape.
func PipelineInfo(ctx context.Context, stage, action string, fields map[string]interface{}) {
	GetLogger(ctx).WithFields(logrus.Fields{"stage": stage, "action": action}).WithFields(fields).Info("pipeline stage")
}

func PipelineWarn(ctx context.Context, stage, action string, fields map[string]interface{}) {
	GetLogger(ctx).WithFields(logrus.Fields{"stage": stage, "action": action}).WithFields(fields).Warn("pipeline stage")
}

func PipelineError(ctx context.Context, stage, action string, fields map[string]interface{}) {
	GetLogger(ctx).WithFields(logrus.Fields{"stage": stage, "action": action}).WithFields(fields).Error("pipeline stage")
}
