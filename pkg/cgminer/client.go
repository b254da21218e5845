package cgminer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPort is the conventional ASIC control API port
	DefaultPort = 4028

	// MaxResponseSize caps how much a miner may send back (1 MiB)
	MaxResponseSize = 1 << 20

	// MaxTimeout is the hard ceiling on per-call timeouts
	MaxTimeout = 30 * time.Second

	// MaxRetries is the ceiling on the retry budget
	MaxRetries = 5
)

// readCommands is the read-only whitelist. Anything else requires AllowControl.
var readCommands = map[string]bool{
	"summary":  true,
	"stats":    true,
	"pools":    true,
	"devs":     true,
	"version":  true,
	"config":   true,
	"coin":     true,
	"usbstats": true,
	"lcd":      true,
	"check":    true,
	"asc":      true,
	"asccount": true,
}

// controlCommands mutate miner state and are gated behind AllowControl
var controlCommands = map[string]bool{
	"restart":    true,
	"quit":       true,
	"addpool":    true,
	"switchpool": true,
	"removepool": true,
	"setconfig":  true,
	"fanctrl":    true,
	"ascset":     true,
	"ledon":      true,
	"ledoff":     true,
}

var hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// Config holds client construction parameters
type Config struct {
	Host         string
	Port         int
	Timeout      time.Duration
	MaxRetries   int
	RetryBase    time.Duration
	AllowControl bool
}

// Client is a one-call-per-connection JSON-over-TCP client for the ASIC
// control API. Safe for concurrent use.
type Client struct {
	host         string
	port         int
	timeout      time.Duration
	maxRetries   int
	retryBase    time.Duration
	allowControl bool

	// dial is swappable for tests
	dial func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)

	mu               sync.Mutex
	lastLatency      time.Duration
	lastResponseTime time.Time
}

// NewClient validates the configuration and returns a client.
// Host must be a dotted-quad IPv4 or an RFC 1123 hostname; port 1-65535;
// timeout at most 30s; retry budget at most 5.
func NewClient(cfg Config) (*Client, error) {
	if err := ValidateHost(cfg.Host); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidInput, cfg.Port)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Timeout > MaxTimeout {
		return nil, fmt.Errorf("%w: timeout %v exceeds %v", ErrInvalidInput, cfg.Timeout, MaxTimeout)
	}
	if cfg.MaxRetries > MaxRetries {
		return nil, fmt.Errorf("%w: max retries %d exceeds %d", ErrInvalidInput, cfg.MaxRetries, MaxRetries)
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}

	return &Client{
		host:         cfg.Host,
		port:         cfg.Port,
		timeout:      cfg.Timeout,
		maxRetries:   cfg.MaxRetries,
		retryBase:    cfg.RetryBase,
		allowControl: cfg.AllowControl,
		dial: func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
			d := &net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, "tcp", addr)
		},
	}, nil
}

// ValidateHost checks a dotted-quad IPv4 address or RFC 1123 hostname
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidInput)
	}
	if len(host) > 253 {
		return fmt.Errorf("%w: host exceeds 253 characters", ErrInvalidInput)
	}

	// Dotted quad: all four octets must be in range
	if parts := strings.Split(host, "."); len(parts) == 4 && isAllDigits(parts) {
		for _, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 || n > 255 || (len(p) > 1 && p[0] == '0') {
				return fmt.Errorf("%w: invalid IPv4 address %q", ErrInvalidInput, host)
			}
		}
		return nil
	}

	if !hostnameRe.MatchString(host) {
		return fmt.Errorf("%w: invalid hostname %q", ErrInvalidInput, host)
	}
	return nil
}

func isAllDigits(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// Host returns the configured host
func (c *Client) Host() string {
	return c.host
}

// AllowControl reports whether control commands are enabled
func (c *Client) AllowControl() bool {
	return c.allowControl
}

// LastLatency returns the duration of the most recent successful exchange
func (c *Client) LastLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLatency
}

// LastResponseTime returns when the most recent successful exchange finished
func (c *Client) LastResponseTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResponseTime
}

// Call sends one command and returns the parsed reply. Timeout and
// connection failures are retried with exponential backoff up to the
// configured budget; validation and parse failures are returned immediately.
func (c *Client) Call(ctx context.Context, command, parameter string) (map[string]interface{}, error) {
	if !readCommands[command] {
		if !controlCommands[command] {
			return nil, fmt.Errorf("%w: command %q not whitelisted", ErrInvalidInput, command)
		}
		if !c.allowControl {
			return nil, fmt.Errorf("%w: %q", ErrControlDisabled, command)
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		reply, err := c.callOnce(ctx, command, parameter)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		var apiErr *Error
		if !errors.As(err, &apiErr) || !apiErr.Retryable() || attempt >= c.maxRetries {
			return nil, lastErr
		}

		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return nil, &Error{Kind: KindTimeout, Host: c.host, Msg: "context cancelled during retry", Err: ctx.Err()}
		}
	}
}

// backoff is base * 2^attempt plus a small host-hashed jitter so that a
// fleet of collectors retrying the same switch outage doesn't synchronize.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryBase * (1 << uint(attempt))
	h := fnv.New32a()
	h.Write([]byte(c.host))
	jitter := time.Duration(h.Sum32()%100) * time.Millisecond
	return d + jitter
}

func (c *Client) callOnce(ctx context.Context, command, parameter string) (map[string]interface{}, error) {
	start := time.Now()
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	conn, err := c.dial(ctx, addr, c.timeout)
	if err != nil {
		return nil, c.classifyDialError(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, &Error{Kind: KindConnection, Host: c.host, Msg: "failed to set deadline", Err: err}
	}

	req, err := json.Marshal(map[string]string{"command": command, "parameter": parameter})
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Host: c.host, Msg: "failed to encode request", Err: err}
	}
	if _, err := conn.Write(req); err != nil {
		return nil, c.classifyIOError(err, "write failed")
	}

	raw, err := c.readResponse(conn)
	if err != nil {
		return nil, err
	}

	reply, err := parseReply(raw)
	if err != nil {
		return nil, &Error{Kind: KindParse, Host: c.host, Msg: parsePreview(raw), Err: err}
	}

	c.mu.Lock()
	c.lastLatency = time.Since(start)
	c.lastResponseTime = time.Now()
	c.mu.Unlock()

	return reply, nil
}

// readResponse reads until the peer closes, a NUL terminator is observed,
// or MaxResponseSize is reached. Hitting the cap without a terminator is a
// parse failure: the reply cannot be trusted.
func (c *Client) readResponse(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			if idx := indexNUL(chunk[:n]); idx >= 0 {
				buf = append(buf, chunk[:idx]...)
				return buf, nil
			}
			buf = append(buf, chunk[:n]...)
			if len(buf) >= MaxResponseSize {
				return nil, &Error{Kind: KindParse, Host: c.host, Msg: fmt.Sprintf("response exceeds %d bytes", MaxResponseSize)}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return nil, c.classifyIOError(err, "read failed")
		}
	}
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

func (c *Client) classifyDialError(err error) *Error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: KindDNS, Host: c.host, Msg: "dns resolution failed", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Host: c.host, Msg: "connect timed out", Err: err}
	}
	return &Error{Kind: KindConnection, Host: c.host, Msg: "connect failed", Err: err}
}

func (c *Client) classifyIOError(err error, msg string) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Host: c.host, Msg: msg, Err: err}
	}
	return &Error{Kind: KindConnection, Host: c.host, Msg: msg, Err: err}
}

func parsePreview(raw []byte) string {
	const previewLen = 160
	s := string(raw)
	if len(s) > previewLen {
		s = s[:previewLen] + "..."
	}
	return fmt.Sprintf("unparseable reply: %q", s)
}
