package download

import (
	"context"
	"net/http"
	"strings"
)

// Strategy is the shared surface of Direct and LargeFile.
type Strategy interface {
	Name() string
	Start(ctx context.Context, req Request) *Transfer
	Current() *Transfer
	Cancel() bool
}

// Engine owns one instance of each strategy.
type Engine struct {
	direct    *Direct
	largeFile *LargeFile
}

func NewEngine(client *http.Client, observer Observer) *Engine {
	return &Engine{
		direct:    NewDirect(client, observer),
		largeFile: NewLargeFile(client, observer),
	}
}

// Strategy resolves a strategy by kind; unknown kinds use Direct.
func (e *Engine) Strategy(kind string) Strategy {
	if strings.EqualFold(strings.TrimSpace(kind), KindLargeFile) {
		return e.largeFile
	}
	return e.direct
}

// CancelAll cancels the current transfer of every strategy and reports
// whether any was running.
func (e *Engine) CancelAll() bool {
	a := e.direct.Cancel()
	b := e.largeFile.Cancel()
	return a || b
}

// Active reports whether any strategy has a transfer in flight.
func (e *Engine) Active() bool {
	return e.direct.Current() != nil || e.largeFile.Current() != nil
}
