package download

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
)

const KindLargeFile = "large_file"

var ErrConfirmTokenMissing = errors.New("large-file host returned a warning page without a confirmation token")

const maxWarningPageBytes = 1 << 20

var (
	confirmParamPattern = regexp.MustCompile(`confirm=([0-9A-Za-z_\-]+)`)
	formActionPattern   = regexp.MustCompile(`<form[^>]*action="([^"]+)"`)
	hiddenInputPattern  = regexp.MustCompile(`<input[^>]*type="hidden"[^>]*name="([^"]+)"[^>]*value="([^"]*)"`)
)

// LargeFile downloads from hosts that answer big files with a size warning
// page first, and only serve the content once a confirmation token is echoed
// back.
type LargeFile struct {
	tracker
	client   *http.Client
	observer Observer
}

// NewLargeFile builds a LargeFile strategy. A cookie jar is attached to a copy
// of client because the token is commonly handed out as a cookie.
func NewLargeFile(client *http.Client, observer Observer) *LargeFile {
	c := &http.Client{}
	if client != nil {
		clone := *client
		c = &clone
	}
	if c.Jar == nil {
		jar, _ := cookiejar.New(nil)
		c.Jar = jar
	}
	return &LargeFile{client: c, observer: observer}
}

func (l *LargeFile) Name() string { return KindLargeFile }

// Start begins the two-step download asynchronously and makes it the current transfer.
func (l *LargeFile) Start(ctx context.Context, req Request) *Transfer {
	ctx, cancel := context.WithCancel(ctx)
	t := newTransfer(cancel)
	l.track(t)
	go func() {
		n, err := l.fetch(ctx, req)
		res := classify(ctx, req.Dest, n, err)
		if !res.OK() {
			log.Printf("download: %s %s: %s: %v", KindLargeFile, req.URL, res.Outcome, res.Err)
		}
		observe(l.observer, KindLargeFile, res)
		l.untrack(t)
		t.finish(res)
	}()
	return t
}

func (l *LargeFile) fetch(ctx context.Context, req Request) (int64, error) {
	first, err := l.get(ctx, req.URL)
	if err != nil {
		return 0, err
	}
	if servesContent(first) {
		defer first.Body.Close()
		return streamToFile(first, req.Dest, req.OnProgress)
	}

	page, err := io.ReadAll(io.LimitReader(first.Body, maxWarningPageBytes))
	first.Body.Close()
	if err != nil {
		return 0, fmt.Errorf("read warning page: %w", err)
	}
	confirmURL, err := l.confirmURL(first.Request.URL, string(page))
	if err != nil {
		return 0, err
	}

	second, err := l.get(ctx, confirmURL)
	if err != nil {
		return 0, err
	}
	defer second.Body.Close()
	if !servesContent(second) {
		return 0, fmt.Errorf("confirmed request still returned a warning page")
	}
	return streamToFile(second, req.Dest, req.OnProgress)
}

func (l *LargeFile) get(ctx context.Context, rawURL string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// confirmURL derives the second request from the warning page: a confirm form
// is replayed with its hidden inputs, otherwise the token (cookie first, then
// page body) is appended to the original URL.
func (l *LargeFile) confirmURL(origin *url.URL, page string) (string, error) {
	if m := formActionPattern.FindStringSubmatch(page); m != nil {
		action, err := origin.Parse(html.UnescapeString(m[1]))
		if err == nil {
			q := action.Query()
			for _, in := range hiddenInputPattern.FindAllStringSubmatch(page, -1) {
				q.Set(in[1], html.UnescapeString(in[2]))
			}
			if q.Get("confirm") != "" {
				action.RawQuery = q.Encode()
				return action.String(), nil
			}
		}
	}

	token := l.cookieToken(origin)
	if token == "" {
		if m := confirmParamPattern.FindStringSubmatch(page); m != nil {
			token = m[1]
		}
	}
	if token == "" {
		return "", ErrConfirmTokenMissing
	}
	next := *origin
	q := next.Query()
	q.Set("confirm", token)
	next.RawQuery = q.Encode()
	return next.String(), nil
}

func (l *LargeFile) cookieToken(u *url.URL) string {
	if l.client.Jar == nil {
		return ""
	}
	for _, c := range l.client.Jar.Cookies(u) {
		if strings.HasPrefix(c.Name, "download_warning") {
			return c.Value
		}
	}
	return ""
}

func servesContent(resp *http.Response) bool {
	if cd := resp.Header.Get("Content-Disposition"); strings.Contains(strings.ToLower(cd), "attachment") {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return true
	}
	return mediaType != "text/html"
}
