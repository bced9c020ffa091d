/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log threads a structured logr.Logger (backed by zap) through
// context.Context, the same shape many controllers thread a knative logger
// through, minus the knative dependency this module has no other use for.
package log

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// NewZap builds the production logger: JSON encoding, info level unless
// debug is requested.
func NewZap(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than failing boot over logging.
		return zap.NewNop()
	}
	return logger
}

// IntoContext attaches a logger derived from zl to ctx.
func IntoContext(ctx context.Context, zl *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, zapr.NewLogger(zl))
}

// FromContext returns the attached logger, or a discard logger if none was set.
func FromContext(ctx context.Context) logr.Logger {
	if l, ok := ctx.Value(ctxKey{}).(logr.Logger); ok {
		return l
	}
	return logr.Discard()
}
