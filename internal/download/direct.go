package download

import (
	"context"
	"fmt"
	"log"
	"net/http"
)

const KindDirect = "direct"

// Direct downloads with a single streaming GET.
type Direct struct {
	tracker
	client   *http.Client
	observer Observer
}

// NewDirect builds a Direct strategy. The client should carry no overall
// timeout; a stalled transfer is ended by cancellation.
func NewDirect(client *http.Client, observer Observer) *Direct {
	if client == nil {
		client = &http.Client{}
	}
	return &Direct{client: client, observer: observer}
}

func (d *Direct) Name() string { return KindDirect }

// Start begins the download asynchronously and makes it the current transfer.
func (d *Direct) Start(ctx context.Context, req Request) *Transfer {
	ctx, cancel := context.WithCancel(ctx)
	t := newTransfer(cancel)
	d.track(t)
	go func() {
		n, err := d.fetch(ctx, req)
		res := classify(ctx, req.Dest, n, err)
		if !res.OK() {
			log.Printf("download: %s %s: %s: %v", KindDirect, req.URL, res.Outcome, res.Err)
		}
		observe(d.observer, KindDirect, res)
		d.untrack(t)
		t.finish(res)
	}()
	return t
}

func (d *Direct) fetch(ctx context.Context, req Request) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return 0, err
	}
	return streamToFile(resp, req.Dest, req.OnProgress)
}
