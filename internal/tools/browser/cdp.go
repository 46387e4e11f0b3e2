package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrClosed is returned for calls on a connection whose read loop has ended.
var ErrClosed = errors.New("browser: devtools connection closed")

const (
	readLimit    = 64 << 20 // screenshots arrive as one frame
	loadPoll     = 200 * time.Millisecond
	loadDeadline = 30 * time.Second
)

type cdpRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *cdpError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Method string          `json:"method,omitempty"` // set on events
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

// CDPBrowser drives one page target over the Chrome DevTools Protocol.
type CDPBrowser struct {
	conn *websocket.Conn

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan cdpResponse
	done    chan struct{}
	err     error
}

// Dial connects to a page target's webSocketDebuggerUrl.
func Dial(ctx context.Context, wsURL string) (*CDPBrowser, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("browser: dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(readLimit)

	b := &CDPBrowser{
		conn:    conn,
		pending: make(map[int64]chan cdpResponse),
		done:    make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *CDPBrowser) readLoop() {
	defer close(b.done)
	for {
		_, data, err := b.conn.Read(context.Background())
		if err != nil {
			b.mu.Lock()
			b.err = err
			b.mu.Unlock()
			return
		}
		var resp cdpResponse
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID == 0 {
			// Events and malformed frames have no waiter.
			continue
		}
		b.mu.Lock()
		if ch, ok := b.pending[resp.ID]; ok {
			select {
			case ch <- resp:
			default:
			}
		}
		b.mu.Unlock()
	}
}

// call sends one command and decodes its result into out (which may be nil).
func (b *CDPBrowser) call(ctx context.Context, method string, params, out any) error {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, b.err)
	}
	b.nextID++
	id := b.nextID
	ch := make(chan cdpResponse, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	data, err := json.Marshal(cdpRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	if err := b.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("browser: write %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type remoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
}

type evaluateResult struct {
	Result           remoteObject `json:"result"`
	ExceptionDetails *struct {
		Text      string        `json:"text"`
		Exception *remoteObject `json:"exception,omitempty"`
	} `json:"exceptionDetails,omitempty"`
}

// ScriptError is an exception thrown by page script.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string { return "script threw: " + e.Message }

// Evaluate runs script in the page, awaiting promises, and returns the JSON value.
// Undefined results come back as JSON null.
func (b *CDPBrowser) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	var res evaluateResult
	err := b.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    script,
		"returnByValue": true,
		"awaitPromise":  true,
	}, &res)
	if err != nil {
		return nil, err
	}
	if d := res.ExceptionDetails; d != nil {
		msg := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			msg = d.Exception.Description
		}
		return nil, &ScriptError{Message: msg}
	}
	if len(res.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return res.Result.Value, nil
}

// Navigate loads url and waits until document.readyState is complete.
func (b *CDPBrowser) Navigate(ctx context.Context, url string) (PageInfo, error) {
	var nav struct {
		FrameID   string `json:"frameId"`
		ErrorText string `json:"errorText,omitempty"`
	}
	if err := b.call(ctx, "Page.navigate", map[string]any{"url": url}, &nav); err != nil {
		return PageInfo{}, err
	}
	if nav.ErrorText != "" {
		return PageInfo{}, fmt.Errorf("navigate %s: %s", url, nav.ErrorText)
	}

	waitCtx, cancel := context.WithTimeout(ctx, loadDeadline)
	defer cancel()
	for {
		state, err := b.Evaluate(waitCtx, "document.readyState")
		if err == nil && strings.Trim(string(state), `"`) == "complete" {
			break
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return PageInfo{}, ctx.Err()
			}
			return PageInfo{}, fmt.Errorf("navigate %s: page did not finish loading within %s", url, loadDeadline)
		case <-time.After(loadPoll):
		}
	}

	raw, err := b.Evaluate(ctx, "({url: location.href, title: document.title})")
	if err != nil {
		return PageInfo{}, err
	}
	var info PageInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return PageInfo{}, fmt.Errorf("decode page info: %w", err)
	}
	return info, nil
}

// Screenshot captures the viewport, or the whole page when fullPage is set, as PNG.
func (b *CDPBrowser) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var shot struct {
		Data string `json:"data"`
	}
	params := map[string]any{"format": "png"}
	if fullPage {
		params["captureBeyondViewport"] = true
	}
	if err := b.call(ctx, "Page.captureScreenshot", params, &shot); err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(shot.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// Close shuts the websocket; the browser process keeps running.
func (b *CDPBrowser) Close() error {
	return b.conn.Close(websocket.StatusNormalClosure, "")
}

// Alive reports whether the read loop is still running.
func (b *CDPBrowser) Alive() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// pageWebSocketURL finds a page target on the debugging endpoint, opening one if none exist.
func pageWebSocketURL(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	var targets []target
	if err := getJSON(ctx, client, http.MethodGet, endpoint+"/json/list", &targets); err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}

	var created target
	if err := getJSON(ctx, client, http.MethodPut, endpoint+"/json/new?about:blank", &created); err != nil {
		return "", fmt.Errorf("open page target: %w", err)
	}
	if created.WebSocketDebuggerURL == "" {
		return "", errors.New("browser: new target has no debugger url")
	}
	return created.WebSocketDebuggerURL, nil
}

func getJSON(ctx context.Context, client *http.Client, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
