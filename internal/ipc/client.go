package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// RemoteError is an error reported by the daemon.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "textreplacer",
		ClientVersion:  "dev",
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Client talks to the daemon. Requests are serialised over one connection.
type Client struct {
	mu        sync.Mutex
	conn      net.Conn
	cfg       ClientConfig
	sessionID string
	version   string
	nextReqID atomic.Uint32
}

// Dial connects to the daemon and performs the handshake. It returns
// ErrDaemonNotRunning when nothing listens on the socket.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	def := DefaultClientConfig(cfg.SocketPath)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", cfg.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, ErrDaemonNotRunning
		}
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &Client{conn: conn, cfg: cfg}
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return c, nil
}

// Close closes the connection to the daemon
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SessionID returns the session ID assigned by the server
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerVersion returns the daemon version reported in the handshake.
func (c *Client) ServerVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Client) handshake() error {
	req := &HandshakeRequest{
		ClientVersion:   c.cfg.ClientVersion,
		ClientName:      c.cfg.ClientName,
		ProtocolVersion: ProtocolVersion,
	}

	var ack HandshakeResponse
	if err := c.call(MsgHandshake, req, MsgHandshakeAck, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.version = ack.ServerVersion
	c.mu.Unlock()
	return nil
}

// request sends one message and waits for its response.
func (c *Client) request(msgType MessageType, payload any) (*Message, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = Encode(payload); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	reqID := c.nextReqID.Add(1)
	deadline := time.Now().Add(c.cfg.RequestTimeout)
	c.conn.SetDeadline(deadline)

	if err := NewMessage(msgType, reqID, data).Write(c.conn); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}

	for {
		resp, err := ReadMessage(c.conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.Header.RequestID == reqID {
			return resp, nil
		}
	}
}

// call performs a request and decodes a response of type want into out.
func (c *Client) call(msgType MessageType, payload any, want MessageType, out any) error {
	resp, err := c.request(msgType, payload)
	if err != nil {
		return err
	}

	switch resp.Header.Type {
	case want:
	case MsgError:
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return &RemoteError{Code: errResp.Code, Message: errResp.Message}
	default:
		return fmt.Errorf("unexpected response: %s", resp.Header.Type)
	}

	if out == nil {
		return nil
	}
	return Decode(resp.Payload, out)
}

// Ping checks if the daemon is responsive
func (c *Client) Ping() error {
	return c.call(MsgPing, nil, MsgPong, nil)
}

// Status requests the daemon status
func (c *Client) Status() (*StatusResponse, error) {
	var status StatusResponse
	if err := c.call(MsgStatusRequest, nil, MsgStatusResponse, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Enable starts expansion.
func (c *Client) Enable() (*StateResponse, error) {
	var resp StateResponse
	if err := c.call(MsgEnable, nil, MsgStateResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Disable stops expansion.
func (c *Client) Disable() (*StateResponse, error) {
	var resp StateResponse
	if err := c.call(MsgDisable, nil, MsgStateResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRules returns the rules sorted by trigger.
func (c *Client) ListRules() (*ListRulesResponse, error) {
	var resp ListRulesResponse
	if err := c.call(MsgListRules, nil, MsgListRulesResp, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddRule adds or overwrites a rule.
func (c *Client) AddRule(trigger, replacement string) (*RulesChangedResponse, error) {
	var resp RulesChangedResponse
	req := &AddRuleRequest{Trigger: trigger, Replacement: replacement}
	if err := c.call(MsgAddRule, req, MsgRulesChanged, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveRule deletes a rule. A missing trigger is a RemoteError with code ErrNotFound.
func (c *Client) RemoveRule(trigger string) (*RulesChangedResponse, error) {
	var resp RulesChangedResponse
	if err := c.call(MsgRemoveRule, &RemoveRuleRequest{Trigger: trigger}, MsgRulesChanged, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearRules deletes every rule.
func (c *Client) ClearRules() (*RulesChangedResponse, error) {
	var resp RulesChangedResponse
	if err := c.call(MsgClearRules, nil, MsgRulesChanged, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ImportRules merges rules into the daemon's set.
func (c *Client) ImportRules(rules map[string]string) (*RulesChangedResponse, error) {
	var resp RulesChangedResponse
	if err := c.call(MsgImportRules, &ImportRulesRequest{Rules: rules}, MsgRulesChanged, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health runs the daemon's component checks.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.call(MsgHealthRequest, nil, MsgHealthResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Metrics returns the daemon counters in Prometheus text format.
func (c *Client) Metrics() (string, error) {
	var resp MetricsResponse
	if err := c.call(MsgMetricsRequest, nil, MsgMetricsResponse, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}
