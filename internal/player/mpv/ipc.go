package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrConnClosed is returned for commands on a closed connection
var ErrConnClosed = errors.New("mpv connection closed")

// Event is an asynchronous message from mpv
type Event struct {
	Event     string          `json:"event"`
	ID        int             `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	FileError string          `json:"file_error,omitempty"`
}

type request struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

type response struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"event"`
}

// Conn speaks the mpv JSON IPC protocol: one JSON object per line,
// replies matched to requests by request_id.
type Conn struct {
	conn    net.Conn
	onEvent func(Event)

	writeMu sync.Mutex
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan response
	closed  bool
	done    chan struct{}
	err     error
}

// NewConn starts reading from c. onEvent runs on the read goroutine and
// must not block.
func NewConn(c net.Conn, onEvent func(Event)) *Conn {
	conn := &Conn{
		conn:    c,
		onEvent: onEvent,
		pending: make(map[int64]chan response),
		done:    make(chan struct{}),
	}
	go conn.readLoop()
	return conn
}

func (c *Conn) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Event != "" {
			var ev Event
			if err := json.Unmarshal(line, &ev); err == nil && c.onEvent != nil {
				c.onEvent(ev)
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	c.shutdown(scanner.Err())
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
}

// Command sends args and waits for the reply data
func (c *Conn) Command(ctx context.Context, args ...interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	c.writeMu.Lock()
	_, err = c.conn.Write(append(data, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to send %v: %w", args[0], err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnClosed
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, fmt.Errorf("mpv %v: %s", args[0], resp.Error)
		}
		return resp.Data, nil
	}
}

func (c *Conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Done is closed when the connection stops reading
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close closes the underlying connection
func (c *Conn) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
