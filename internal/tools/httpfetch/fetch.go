// Package httpfetch provides the http_fetch tool for pulling score pages, JSON APIs and
// result images directly, without a browser.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

const (
	defaultMaxBytes = 4 << 20
	hardMaxBytes    = 32 << 20
	userAgent       = "meetrunner/1.0 (+results collection)"
)

var methods = map[string]bool{http.MethodGet: true, http.MethodPost: true, http.MethodHead: true}

// Fetcher performs HTTP requests on behalf of the model.
type Fetcher struct {
	client  *http.Client
	spiller toolkit.Spiller
}

// New returns a fetcher. A zero timeout leaves requests bounded only by the call context.
func New(timeout time.Duration, spiller toolkit.Spiller) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}, spiller: spiller}
}

// Request is one http_fetch invocation.
type Request struct {
	URL      string
	Method   string
	Headers  map[string]string
	Body     string
	MaxBytes int64
}

// Response is the decoded reply.
type Response struct {
	Status      int
	ContentType string
	Headers     http.Header
	Body        []byte
	Truncated   bool
}

// Do executes req.
func (f *Fetcher) Do(ctx context.Context, req Request) (Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Response{}, fmt.Errorf("url must be an absolute http(s) URL: %q", req.URL)
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !methods[method] {
		return Response{}, fmt.Errorf("method %s not allowed (GET, POST, HEAD)", method)
	}
	limit := req.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	if limit > hardMaxBytes {
		limit = hardMaxBytes
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("User-Agent", userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	out := Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     resp.Header,
		Body:        data,
	}
	if int64(len(data)) > limit {
		out.Body = data[:limit]
		out.Truncated = true
	}
	return out, nil
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}

func headerSummary(h http.Header) string {
	keep := []string{"Content-Type", "Content-Length", "Last-Modified", "Location", "Content-Disposition"}
	var lines []string
	for _, k := range keep {
		if v := h.Get(k); v != "" {
			lines = append(lines, k+": "+v)
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// NewTool wraps f as the http_fetch tool.
func NewTool(f *Fetcher) engine.Tool {
	return engine.Tool{
		Name:        "http_fetch",
		Description: "Fetches a URL over HTTP(S). Text bodies (HTML, JSON, CSV) are returned inline or saved to a file when large; image responses are returned as images. Use it for static result pages and JSON endpoints; use the browser for pages that need scripts.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"url": {"type":"string","description":"Absolute http or https URL"},
				"method": {"type":"string","enum":["GET","POST","HEAD"],"description":"Default GET"},
				"headers": {"type":"object","additionalProperties":{"type":"string"}},
				"body": {"type":"string","description":"Request body for POST"},
				"max_bytes": {"type":"integer","minimum":1,"description":"Body size cap (default 4 MiB)"}
			},
			"required": ["url"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			rawURL, err := toolkit.String(args, "url")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			resp, err := f.Do(ctx, Request{
				URL:      rawURL,
				Method:   toolkit.OptString(args, "method", http.MethodGet),
				Headers:  toolkit.StringMap(args, "headers"),
				Body:     toolkit.OptString(args, "body", ""),
				MaxBytes: int64(toolkit.OptInt(args, "max_bytes", 0)),
			})
			if err != nil {
				if ctx.Err() != nil {
					return engine.ToolOutput{}, ctx.Err()
				}
				return engine.ErrorOutput("http_fetch %s failed: %v", rawURL, err), nil
			}

			header := fmt.Sprintf("HTTP %d %s\n%s", resp.Status, http.StatusText(resp.Status), headerSummary(resp.Headers))
			isError := resp.Status >= 400
			mt := mediaType(resp.ContentType)

			if strings.HasPrefix(mt, "image/") && !resp.Truncated && len(resp.Body) > 0 {
				return engine.ToolOutput{
					Parts:   []engine.Part{engine.TextPart(header), engine.ImagePart(mt, resp.Body)},
					IsError: isError,
				}, nil
			}

			text := header + "\n\n"
			if resp.Truncated {
				text += fmt.Sprintf("(body truncated to %d bytes)\n", len(resp.Body))
			}
			text += string(resp.Body)
			if isError {
				text = "ERROR: " + text
			}
			fitted, err := f.spiller.Fit("http_fetch", text)
			if err != nil {
				return engine.ToolOutput{}, err
			}
			return engine.ToolOutput{Parts: []engine.Part{engine.TextPart(fitted)}, IsError: isError}, nil
		},
		Metadata: engine.ToolMetadata{Category: "network", ReadOnly: true},
	}
}
