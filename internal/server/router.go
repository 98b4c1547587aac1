// Package server exposes a document store over a TCP line protocol.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

const (
	maxConnections    = 100
	connectionTimeout = 5 * time.Minute
	commandTimeout    = 30 * time.Second
	maxLineBytes      = 16 << 20
)

type Router struct {
	store sdk.DocumentStore
	cert  *tls.Certificate

	// maxLine bounds a single command line in bytes.
	maxLine int

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func NewRouter(s sdk.DocumentStore) *Router {
	return &Router{store: s, maxLine: maxLineBytes}
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Addr returns the listening address once Listen has bound, or nil.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stop closes the listener; Listen returns nil afterwards.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

// Listen starts the TCP server and blocks until Stop is called.
func (r *Router) Listen(port string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()
	defer listener.Close()

	semaphore := make(chan struct{}, maxConnections)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			zap.L().Warn("accept failed", zap.Error(err))
			continue
		}

		// Bound connection lifetime for light traffic to prevent resource exhaustion
		conn.SetDeadline(time.Now().Add(connectionTimeout))

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.handleConnection(c)
		}(conn)
	}
}

func (r *Router) handleConnection(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(64<<10, r.maxLine)), r.maxLine)

	for {
		conn.SetReadDeadline(time.Now().Add(commandTimeout))

		if !scanner.Scan() {
			if errors.Is(scanner.Err(), bufio.ErrTooLong) {
				fmt.Fprintln(conn, "ERR line too long")
			}
			return // Connection closed or timeout
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		command, rest, _ := strings.Cut(line, " ")
		command = strings.ToUpper(command)

		if command == "QUIT" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		resp := r.dispatch(ctx, command, rest)
		cancel()
		fmt.Fprintln(conn, resp)
	}
}

// dispatch executes one command and returns the response line.
func (r *Router) dispatch(ctx context.Context, command, rest string) string {
	switch command {
	case "PING":
		return "PONG"

	case "CREATE":
		// CREATE <collection> <json>
		parts := splitArgs(rest, 2)
		if len(parts) < 2 {
			return "ERR usage: CREATE <collection> <json>"
		}
		var doc sdk.Document
		if err := json.Unmarshal([]byte(parts[1]), &doc); err != nil {
			return "ERR invalid json value"
		}
		id, err := r.store.Create(ctx, parts[0], doc)
		if err != nil {
			return errLine(err)
		}
		return "OK " + id

	case "GET":
		parts := splitArgs(rest, 2)
		if len(parts) < 2 {
			return "ERR usage: GET <collection> <id>"
		}
		if err := sdk.ValidateID(parts[1]); err != nil {
			return errLine(err)
		}
		doc, err := r.store.Get(ctx, parts[0], parts[1])
		if err != nil {
			return errLine(err)
		}
		return okJSON(doc)

	case "LIST":
		// LIST <collection> [<field> <json-value>]
		parts := splitArgs(rest, 3)
		if len(parts) != 1 && len(parts) != 3 {
			return "ERR usage: LIST <collection> [<field> <json-value>]"
		}
		var filter *sdk.Filter
		if len(parts) == 3 {
			var val any
			if err := json.Unmarshal([]byte(parts[2]), &val); err != nil {
				return "ERR invalid json value"
			}
			filter = &sdk.Filter{Field: parts[1], Value: val}
		}
		list, err := r.store.List(ctx, parts[0], filter)
		if err != nil {
			return errLine(err)
		}
		return okJSON(list)

	case "UPDATE", "RESTORE":
		// UPDATE|RESTORE <collection> <id> <json>
		parts := splitArgs(rest, 3)
		if len(parts) < 3 {
			return fmt.Sprintf("ERR usage: %s <collection> <id> <json>", command)
		}
		if err := sdk.ValidateID(parts[1]); err != nil {
			return errLine(err)
		}
		var doc sdk.Document
		if err := json.Unmarshal([]byte(parts[2]), &doc); err != nil {
			return "ERR invalid json value"
		}
		var err error
		if command == "UPDATE" {
			err = r.store.Update(ctx, parts[0], parts[1], doc)
		} else {
			err = r.store.Restore(ctx, parts[0], parts[1], doc)
		}
		if err != nil {
			return errLine(err)
		}
		return "OK"

	case "DEL":
		parts := splitArgs(rest, 2)
		if len(parts) < 2 {
			return "ERR usage: DEL <collection> <id>"
		}
		if err := sdk.ValidateID(parts[1]); err != nil {
			return errLine(err)
		}
		if err := r.store.Delete(ctx, parts[0], parts[1]); err != nil {
			return errLine(err)
		}
		return "OK"

	case "COLLECTIONS":
		list, err := r.store.Collections(ctx)
		if err != nil {
			return errLine(err)
		}
		return okJSON(list)

	case "DUMP":
		parts := splitArgs(rest, 1)
		if len(parts) < 1 {
			return "ERR usage: DUMP <collection>"
		}
		data, err := r.store.Dump(ctx, parts[0])
		if err != nil {
			return errLine(err)
		}
		return okJSON(data)
	}

	return "ERR unknown command " + command
}

// splitArgs splits at most n-1 times on spaces so a trailing JSON argument
// keeps its inner whitespace.
func splitArgs(rest string, n int) []string {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil
	}
	return strings.SplitN(rest, " ", n)
}

func okJSON(v any) string {
	res, err := json.Marshal(v)
	if err != nil {
		return "ERR internal error"
	}
	return "OK " + string(res)
}

func errLine(err error) string {
	// Single line only: the protocol is line-delimited.
	return "ERR " + strings.ReplaceAll(err.Error(), "\n", " ")
}
