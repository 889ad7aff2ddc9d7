// Package nlog is the process-wide structured logger used by every other
// package in this module. It wraps go.uber.org/zap the way the teacher's
// own cmn/nlog wraps its logging backend: package-level functions backed by
// a single sugared logger, plus a verbosity gate so hot paths can skip
// formatting when nobody is watching.
package nlog

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	mu     sync.Mutex
	sugar  = mustBuild()
	verb   atomic.Int64
	smodOn sync.Map // module name -> bool
)

func mustBuild() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// logging must never be the reason the process can't start
		l = zap.NewNop()
	}
	return l.Sugar()
}

// SetLevel adjusts global verbosity (0 = quiet, higher = chattier). It does
// not change zap's own level, only the FastV gate used by call sites that
// want to skip argument formatting entirely.
func SetLevel(v int) { verb.Store(int64(v)) }

// SetModule turns per-module verbose logging on or off, mirroring the
// teacher's cos.Smodule* gates (e.g. "mirror", "s3").
func SetModule(module string, on bool) { smodOn.Store(module, on) }

// FastV reports whether a call site at the given verbosity/module should log.
func FastV(v int, module string) bool {
	if int64(v) <= verb.Load() {
		return true
	}
	on, _ := smodOn.Load(module)
	b, _ := on.(bool)
	return b
}

func Infoln(args ...any)                 { mu.Lock(); defer mu.Unlock(); sugar.Info(args...) }
func Infof(format string, args ...any)   { mu.Lock(); defer mu.Unlock(); sugar.Infof(format, args...) }
func Warningln(args ...any)              { mu.Lock(); defer mu.Unlock(); sugar.Warn(args...) }
func Warningf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	sugar.Warnf(format, args...)
}
func Errorln(args ...any)               { mu.Lock(); defer mu.Unlock(); sugar.Error(args...) }
func Errorf(format string, args ...any) { mu.Lock(); defer mu.Unlock(); sugar.Errorf(format, args...) }

// Fatalf logs at the highest level and aborts the process. Reserved for
// contract violations and resource-exhaustion failures the core cannot
// recover from (spec §7): unknown gid, dequeue-on-empty, in-memory-limit
// violation after a forced unload, protocol violation in iexchange.
func Fatalf(format string, args ...any) {
	mu.Lock()
	sugar.Errorf("CRITICAL: "+format, args...)
	_ = sugar.Sync()
	mu.Unlock()
	os.Exit(1)
}
