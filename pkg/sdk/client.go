// Package sdk provides the client-side library for the carbon-ledger document store.
// It supports both remote connections to the store daemon via TCP/TLS and local embedded mode.
package sdk

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	maxAttempts      = 3
	operationTimeout = 30 * time.Second
)

// Client is a remote client for the store daemon.
// It implements the DocumentStore interface.
type Client struct {
	addr       string
	disableTLS bool
	conn       net.Conn
	reader     *bufio.Reader
	mu         sync.Mutex // Protects concurrent access to the connection
}

// Connect establishes a TLS-encrypted connection to a remote store daemon.
// With disableTLS it falls back to plain TCP.
func Connect(addr string, disableTLS bool) (*Client, error) {
	c := &Client{addr: addr, disableTLS: disableTLS}
	if err := c.reconnect(); err != nil {
		return nil, eris.Wrapf(err, "sdk: connect %s", addr)
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	if c.disableTLS {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // the daemon uses a self-signed cert for internal traffic
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}

	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// sendAndReceive writes one command line and reads one response line.
// Idempotent commands are retried on transport errors; others get a single attempt.
func (c *Client) sendAndReceive(ctx context.Context, cmd string, idempotent bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempts := 1
	if idempotent {
		attempts = maxAttempts
	}

	var err error
	var resp string

	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = eris.Wrap(reconnectErr, "reconnect failed")
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		deadline := time.Now().Add(operationTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		c.conn.SetDeadline(deadline)

		_, err = fmt.Fprint(c.conn, cmd+"\n")
		if err == nil {
			resp, err = c.reader.ReadString('\n')
			if err == nil {
				resp = strings.TrimSpace(resp)
				if strings.HasPrefix(resp, "ERR") {
					return "", remoteError(strings.TrimSpace(strings.TrimPrefix(resp, "ERR")))
				}
				return resp, nil
			}
		}

		zap.L().Warn("store client attempt failed",
			zap.String("addr", c.addr),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)

		// Force a reconnect on the next iteration
		if closeErr := c.reconnect(); closeErr != nil {
			zap.L().Warn("store client reconnect failed", zap.String("addr", c.addr), zap.Error(closeErr))
			c.conn = nil
		}

		if i < attempts-1 {
			time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
		}
	}

	return "", eris.Wrapf(err, "sdk: %s failed after %d attempt(s)", commandName(cmd), attempts)
}

// remoteError maps daemon error text back onto the sentinels.
func remoteError(msg string) error {
	if strings.HasSuffix(msg, ErrDocumentNotFound.Error()) {
		return ErrDocumentNotFound
	}
	for _, sentinel := range []error{ErrInvalidCollection, ErrInvalidField, ErrInvalidID} {
		if strings.HasSuffix(msg, sentinel.Error()) {
			detail := strings.TrimSuffix(strings.TrimSuffix(msg, sentinel.Error()), ": ")
			return eris.Wrap(sentinel, strings.TrimSpace("sdk: remote "+detail))
		}
	}
	return eris.New(msg)
}

func commandName(cmd string) string {
	name, _, _ := strings.Cut(cmd, " ")
	return name
}

func payload(resp string) []byte {
	return []byte(strings.TrimPrefix(strings.TrimPrefix(resp, "OK"), " "))
}

func (c *Client) Create(ctx context.Context, collection string, doc Document) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return "", eris.Wrap(err, "sdk: marshal document")
	}
	resp, err := c.sendAndReceive(ctx, fmt.Sprintf("CREATE %s %s", collection, jsonData), false)
	if err != nil {
		return "", err
	}
	return string(payload(resp)), nil
}

func (c *Client) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ValidateKey(collection, id); err != nil {
		return nil, err
	}
	resp, err := c.sendAndReceive(ctx, fmt.Sprintf("GET %s %s", collection, id), true)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(payload(resp), &doc); err != nil {
		return nil, eris.Wrap(err, "sdk: decode document")
	}
	return doc, nil
}

func (c *Client) List(ctx context.Context, collection string, filter *Filter) ([]Snapshot, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("LIST %s", collection)
	if filter != nil {
		val, err := json.Marshal(filter.Value)
		if err != nil {
			return nil, eris.Wrap(err, "sdk: marshal filter value")
		}
		cmd = fmt.Sprintf("%s %s %s", cmd, filter.Field, val)
	}
	resp, err := c.sendAndReceive(ctx, cmd, true)
	if err != nil {
		return nil, err
	}
	var list []Snapshot
	if err := json.Unmarshal(payload(resp), &list); err != nil {
		return nil, eris.Wrap(err, "sdk: decode list")
	}
	return list, nil
}

func (c *Client) Update(ctx context.Context, collection, id string, patch Document) error {
	if err := ValidateKey(collection, id); err != nil {
		return err
	}
	jsonData, err := json.Marshal(patch)
	if err != nil {
		return eris.Wrap(err, "sdk: marshal patch")
	}
	_, err = c.sendAndReceive(ctx, fmt.Sprintf("UPDATE %s %s %s", collection, id, jsonData), true)
	return err
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := ValidateKey(collection, id); err != nil {
		return err
	}
	_, err := c.sendAndReceive(ctx, fmt.Sprintf("DEL %s %s", collection, id), true)
	return err
}

func (c *Client) Restore(ctx context.Context, collection, id string, doc Document) error {
	if err := ValidateKey(collection, id); err != nil {
		return err
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "sdk: marshal document")
	}
	_, err = c.sendAndReceive(ctx, fmt.Sprintf("RESTORE %s %s %s", collection, id, jsonData), true)
	return err
}

func (c *Client) Collections(ctx context.Context) ([]string, error) {
	resp, err := c.sendAndReceive(ctx, "COLLECTIONS", true)
	if err != nil {
		return nil, err
	}
	var list []string
	err = json.Unmarshal(payload(resp), &list)
	return list, eris.Wrap(err, "sdk: decode collections")
}

func (c *Client) Dump(ctx context.Context, collection string) (map[string]Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	resp, err := c.sendAndReceive(ctx, fmt.Sprintf("DUMP %s", collection), true)
	if err != nil {
		return nil, err
	}
	var store map[string]Document
	err = json.Unmarshal(payload(resp), &store)
	return store, eris.Wrap(err, "sdk: decode dump")
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}

// --- Generics Support ---

// Decode converts a document into a typed value.
// Documents coming off the wire are generic maps, so they are re-marshalled
// into the target type. The id is injected under the "id" key.
func Decode[T any](id string, doc Document) (T, error) {
	var target T
	body := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		body[k] = v
	}
	if id != "" {
		body["id"] = id
	}
	bytes, err := json.Marshal(body)
	if err != nil {
		return target, eris.Wrap(err, "sdk: encode")
	}
	err = json.Unmarshal(bytes, &target)
	return target, eris.Wrap(err, "sdk: decode")
}

// Get retrieves a document and decodes it into T.
func Get[T any](ctx context.Context, s DocReader, collection, id string) (T, error) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](id, doc)
}
