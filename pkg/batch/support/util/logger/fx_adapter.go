package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter implements fxevent.Logger on top of the package level logger.
// Lifecycle hooks are logged with their runtime so slow migrations or scheduler starts show
// up at startup; provide/invoke chatter stays at DEBUG.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates a new instance of FxLoggerAdapter.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

func hookEvent(phase, funcName, caller string, runtime time.Duration, err error) {
	level := zerolog.DebugLevel
	minimum := LevelDebug
	if err != nil {
		level, minimum = zerolog.ErrorLevel, LevelError
	}
	if _, ok := enabled(minimum); !ok {
		return
	}
	entry := With(map[string]interface{}{
		"hook":   extractMeaningfulFunctionName(funcName),
		"caller": caller,
	})
	ev := entry.WithLevel(level)
	if runtime > 0 {
		ev = ev.Dur("runtime", runtime)
	}
	if err != nil {
		ev.Err(err).Msgf("%s hook failed", phase)
		return
	}
	ev.Msgf("%s hook executed", phase)
}

// LogEvent logs events from Fx.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		hookEvent("OnStart", e.FunctionName, e.CallerName, e.Runtime, e.Err)
	case *fxevent.OnStopExecuted:
		hookEvent("OnStop", e.FunctionName, e.CallerName, e.Runtime, e.Err)
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("Fx: supplying %s failed: %v", e.TypeName, e.Err)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("Fx: provide %s failed: %v", extractMeaningfulFunctionName(e.ConstructorName), e.Err)
			return
		}
		Debugf("Fx: %s provides %s", extractMeaningfulFunctionName(e.ConstructorName), strings.Join(e.OutputTypeNames, ", "))
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("Fx: invoke %s failed: %v", extractMeaningfulFunctionName(e.FunctionName), e.Err)
		}
	case *fxevent.Stopping:
		Infof("Received %s, stopping billcache.", strings.ToUpper(e.Signal.String()))
	case *fxevent.Stopped:
		if e.Err != nil {
			Errorf("billcache stopped with error: %v", e.Err)
		}
	case *fxevent.RollingBack:
		Errorf("billcache failed to start, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			Errorf("Rollback failed: %v", e.Err)
		}
	case *fxevent.Started:
		if e.Err == nil {
			Infof("billcache started.")
		}
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("Fx logger initialization failed: %v", e.Err)
		}
	}
}

// extractMeaningfulFunctionName trims the ".funcN" suffix fx reports for closures.
func extractMeaningfulFunctionName(funcName string) string {
	if idx := strings.LastIndex(funcName, ".func"); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}
