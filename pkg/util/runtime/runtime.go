package runtime

import (
	"github.com/tsundata/vhm/pkg/util/flog"
	"golang.org/x/xerrors"
	"net/http"
	"runtime"
)

var PanicHandlers = []func(interface{}){logPanic}

// ReallyCrash controls whether HandleCrash re-panics after the handlers ran.
var ReallyCrash = true

func logPanic(r interface{}) {
	if r == http.ErrAbortHandler {
		return
	}

	const size = 64 << 10
	stacktrace := make([]byte, size)
	stacktrace = stacktrace[:runtime.Stack(stacktrace, false)]
	if _, ok := r.(string); ok {
		flog.Errorf("Observed a panic: %s\n%s", r, stacktrace)
	} else {
		flog.Errorf("Observed a panic: %#v (%v)\n%s", r, r, stacktrace)
	}
}

// HandleCrash is deferred by long-running goroutines. It logs the panic and,
// when ReallyCrash is set, panics again.
func HandleCrash(additionalHandlers ...func(interface{})) {
	if r := recover(); r != nil {
		for _, fn := range PanicHandlers {
			fn(r)
		}
		for _, fn := range additionalHandlers {
			fn(r)
		}
		if ReallyCrash {
			panic(r)
		}
	}
}

var ErrRecovered = xerrors.New("recovered from panic")

// RecoverError runs fn and converts a panic into an error wrapping
// ErrRecovered.
func RecoverError(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(r)
			err = xerrors.Errorf("%v: %w", r, ErrRecovered)
		}
	}()
	return fn()
}
