package gologger

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	ReqIDKey   ctxKey = "reqID"
	ScanIDKey  ctxKey = "scanID"
	defaultLvl        = zerolog.InfoLevel
)

func init() {
	l := NewLogger()
	zerolog.DefaultContextLogger = &l
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		function := ""
		fun := runtime.FuncForPC(pc)
		if fun != nil {
			funName := fun.Name()
			slash := strings.LastIndex(funName, "/")
			if slash > 0 {
				funName = funName[slash+1:]
			}
			function = " " + funName + "()"
		}
		return file + ":" + strconv.Itoa(line) + function
	}
}

func NewLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "icescan").Logger()

	logger = logger.Hook(CallerHook{})

	if os.Getenv("PRETTY") == "1" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	lvl := defaultLvl
	if os.Getenv("DEBUG") == "1" {
		lvl = zerolog.DebugLevel
	} else if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			lvl = parsed
		}
	}
	zerolog.SetGlobalLevel(lvl)

	return logger
}

// WithScanID returns a context whose logger carries the scan id. Used by the
// merge engine so every session log line can be correlated with its query.
func WithScanID(ctx context.Context, scanID string) context.Context {
	ctx = context.WithValue(ctx, ScanIDKey, scanID)
	l := zerolog.Ctx(ctx).With().Str("scanID", scanID).Logger()
	return l.WithContext(ctx)
}

type CallerHook struct{}

func (h CallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}
