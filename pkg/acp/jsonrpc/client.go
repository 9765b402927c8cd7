package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kandev/acpcore/internal/common/logger"
	"github.com/kandev/acpcore/internal/runtime/rterr"
	"go.uber.org/zap"
)

// NotificationHandler receives an inbound notification's method and raw
// params. It is invoked synchronously from the read loop, in arrival order,
// so ordering-sensitive consumers (session/update) never need their own
// sequencing against other notifications on the same connection.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler serves an inbound request from the peer and returns either
// a result to marshal or an RPC error. It is invoked on its own goroutine so
// a slow capability call (permission wait, terminal spawn) never blocks the
// read loop from delivering subsequent notifications.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (result interface{}, rpcErr *Error)

// RawLineHandler is invoked when an inbound line fails to classify as a
// response, request, or notification. The core never drops an
// unparseable line; the caller is expected to wrap it and forward it
// upward as a raw event rather than tear down the connection.
type RawLineHandler func(line []byte, decodeErr error)

// Client is a minimal bidirectional JSON-RPC 2.0 client over a line-framed
// stdio transport: it both issues requests to the peer (Call/Notify) and
// serves requests the peer issues to it (via RequestHandler).
type Client struct {
	reader *LineReader
	writer *LineWriter
	log    *logger.Logger

	mu      sync.Mutex
	pending map[string]chan *Response
	nextID  int64

	notifHandler NotificationHandler
	reqHandler   RequestHandler
	rawHandler   RawLineHandler

	done      chan struct{}
	closeOnce sync.Once
	readErr   atomic.Value // error
}

// NewClient wires a Client to an already-open stdin (write side) and stdout
// (read side) pair. log may be nil, in which case logger.Default() is used.
func NewClient(stdout io.Reader, stdin io.Writer, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		reader:  NewLineReader(stdout),
		writer:  NewLineWriter(stdin),
		log:     log.WithFields(zap.String("component", "jsonrpc-client")),
		pending: make(map[string]chan *Response),
		done:    make(chan struct{}),
	}
}

func (c *Client) SetNotificationHandler(h NotificationHandler) { c.notifHandler = h }
func (c *Client) SetRequestHandler(h RequestHandler)            { c.reqHandler = h }
func (c *Client) SetRawLineHandler(h RawLineHandler)            { c.rawHandler = h }

// Start launches the read loop in the background. It returns immediately;
// the loop runs until the underlying reader returns an error or EOF.
func (c *Client) Start(ctx context.Context) error {
	go c.readLoop(ctx)
	return nil
}

// Done reports the channel closed when the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the read loop, if any (nil when the
// loop ended on a clean EOF).
func (c *Client) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.closeOnce.Do(func() { close(c.done) })
	for {
		line, err := c.reader.Next()
		if err != nil {
			if err != io.EOF {
				c.readErr.Store(err)
			}
			c.failAllPending(fmt.Errorf("connection closed: %w", err))
			return
		}
		if len(line) == 0 {
			continue
		}

		kind, env, classifyErr := ClassifyLine(line)
		if classifyErr != nil || kind == KindUnknown {
			c.log.Warn("undecodable inbound line", zap.Error(classifyErr))
			if c.rawHandler != nil {
				c.rawHandler(line, classifyErr)
			}
			continue
		}

		switch kind {
		case KindResponse:
			var resp Response
			if err := json.Unmarshal(line, &resp); err != nil {
				c.log.Warn("malformed response line", zap.Error(err))
				if c.rawHandler != nil {
					c.rawHandler(line, err)
				}
				continue
			}
			c.deliverResponse(&resp)

		case KindNotification:
			var note Notification
			if err := json.Unmarshal(line, &note); err != nil {
				c.log.Warn("malformed notification line", zap.Error(err))
				if c.rawHandler != nil {
					c.rawHandler(line, err)
				}
				continue
			}
			if c.notifHandler != nil {
				c.notifHandler(note.Method, note.Params)
			}

		case KindRequest:
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				c.log.Warn("malformed request line", zap.Error(err))
				if c.rawHandler != nil {
					c.rawHandler(line, err)
				}
				continue
			}
			go c.serveRequest(ctx, &req)

		default:
			_ = env
		}
	}
}

func (c *Client) serveRequest(ctx context.Context, req *Request) {
	if c.reqHandler == nil {
		_ = c.SendResponse(req.ID, nil, &Error{Code: MethodNotFound, Message: "no handler registered for " + req.Method})
		return
	}
	result, rpcErr := c.reqHandler(ctx, req.Method, req.Params)
	if rpcErr != nil {
		_ = c.SendResponse(req.ID, nil, rpcErr)
		return
	}
	_ = c.SendResponse(req.ID, result, nil)
}

func idKey(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		b, _ := json.Marshal(id)
		return string(b)
	}
}

func (c *Client) deliverResponse(resp *Response) {
	key := idKey(resp.ID)
	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Warn("response for unknown or already-delivered id", zap.String("id", key))
		return
	}
	ch <- resp
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ch := range c.pending {
		ch <- &Response{Error: &Error{Code: InternalError, Message: err.Error()}}
		delete(c.pending, key)
	}
}

// Call issues a request and blocks until the matching response arrives, the
// context is cancelled, or the connection closes.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	key := strconv.FormatInt(id, 10)

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	if err := c.writer.WriteMessage(req); err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, &RpcErrorValue{Err: resp.Error}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	}
}

// Notify fires a one-way notification; it never waits for acknowledgement.
func (c *Client) Notify(method string, params interface{}) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.writer.WriteMessage(Notification{JSONRPC: "2.0", Method: method, Params: raw})
}

// SendResponse answers an inbound request by id.
func (c *Client) SendResponse(id interface{}, result interface{}, rpcErr *Error) error {
	raw, err := marshalParams(result)
	if err != nil {
		return err
	}
	return c.writer.WriteMessage(Response{JSONRPC: "2.0", ID: id, Result: raw, Error: rpcErr})
}

// Stop fails every pending Call with a "client stopped" error. It does not
// end the read loop or close the underlying streams; the loop exits once the
// reader hits EOF or an error, and the caller owns the subprocess lifecycle.
func (c *Client) Stop() error {
	c.failAllPending(fmt.Errorf("client stopped"))
	return nil
}

func marshalParams(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal params: %w", err)
	}
	return b, nil
}

// RpcErrorValue adapts a wire-level Error into a Go error, carrying the
// code/message verbatim per the RpcError taxonomy entry.
type RpcErrorValue struct {
	Err *Error
}

func (e *RpcErrorValue) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Err.Code, e.Err.Message)
}

// Unwrap exposes the code/message as an *rterr.RpcError, so rterr.CodeOf
// reports "RpcError" for it.
func (e *RpcErrorValue) Unwrap() error {
	return &rterr.RpcError{Code: e.Err.Code, Message: e.Err.Message}
}
