package mpv

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/psantana5/shotread/internal/player"
	"github.com/psantana5/shotread/pkg/dispatch"
	"github.com/psantana5/shotread/pkg/models"
)

// observed property ids
const (
	propPause = iota + 1
	propEOF
	propBuffering
)

// Widget drives one mpv instance
type Widget struct {
	conn    *Conn
	events  player.WidgetEvents
	queue   *dispatch.Queue
	url     func(itemID string) string
	timeout time.Duration
	onClose func() error

	mu        sync.Mutex
	itemID    string
	loaded    bool // a file is loaded
	announced bool // OnReady delivered
	started   bool // playback began since the last load or stop
	paused    bool
	eof       bool
	buffering bool
	destroyed bool
}

func newWidget(ctx context.Context, c net.Conn, itemID string, start float64, events player.WidgetEvents, url func(string) string, timeout time.Duration) (*Widget, error) {
	w := &Widget{
		events:  events,
		queue:   dispatch.NewQueue(nil),
		url:     url,
		timeout: timeout,
		paused:  true,
	}
	w.conn = NewConn(c, w.handleEvent)
	if err := w.setup(ctx); err != nil {
		w.abort()
		return nil, err
	}
	if err := w.load(ctx, itemID, start); err != nil {
		w.abort()
		return nil, err
	}
	return w, nil
}

func (w *Widget) abort() {
	w.mu.Lock()
	w.destroyed = true
	w.mu.Unlock()
	w.queue.Close()
	w.conn.Close()
}

func (w *Widget) setup(ctx context.Context) error {
	for id, name := range map[int]string{propPause: "pause", propEOF: "eof-reached", propBuffering: "paused-for-cache"} {
		if _, err := w.conn.Command(ctx, "observe_property", id, name); err != nil {
			return fmt.Errorf("failed to observe %s: %w", name, err)
		}
	}
	_, err := w.conn.Command(ctx, "set_property", "pause", true)
	return err
}

func (w *Widget) load(ctx context.Context, itemID string, start float64) error {
	w.mu.Lock()
	w.itemID = itemID
	w.loaded = false
	w.started = false
	w.eof = false
	w.mu.Unlock()

	if _, err := w.conn.Command(ctx, "set_property", "start", fmt.Sprintf("%.3f", start)); err != nil {
		return err
	}
	_, err := w.conn.Command(ctx, "loadfile", w.url(itemID), "replace")
	return err
}

// handleEvent runs on the connection read goroutine
func (w *Widget) handleEvent(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return
	}
	switch ev.Event {
	case "file-loaded":
		w.loaded = true
		w.emitStateLocked()
		if !w.announced {
			w.announced = true
			w.emit(w.events.OnReady)
		}
	case "end-file":
		if ev.Reason == "error" {
			msg := ev.FileError
			if msg == "" {
				msg = "unknown error"
			}
			err := fmt.Errorf("mpv failed to play %s: %s", w.itemID, msg)
			if cb := w.events.OnError; cb != nil {
				w.emit(func() { cb(err) })
			}
		}
	case "property-change":
		var flag bool
		if len(ev.Data) > 0 {
			json.Unmarshal(ev.Data, &flag)
		}
		switch ev.ID {
		case propPause:
			w.paused = flag
			if !flag {
				w.started = true
			}
		case propEOF:
			w.eof = flag
		case propBuffering:
			w.buffering = flag
		}
		if w.loaded {
			w.emitStateLocked()
		}
	}
}

func (w *Widget) stateLocked() models.PlaybackState {
	switch {
	case !w.loaded:
		return models.StateUnstarted
	case w.eof:
		return models.StateEnded
	case w.buffering:
		return models.StateBuffering
	case !w.paused:
		return models.StatePlaying
	case !w.started:
		return models.StateCued
	default:
		return models.StatePaused
	}
}

func (w *Widget) emitStateLocked() {
	s := w.stateLocked()
	if cb := w.events.OnStateChange; cb != nil {
		w.emit(func() { cb(s) })
	}
}

func (w *Widget) emit(fn func()) {
	if fn != nil {
		w.queue.Push(fn)
	}
}

func (w *Widget) command(args ...interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return w.conn.Command(ctx, args...)
}

func (w *Widget) Play() error {
	_, err := w.command("set_property", "pause", false)
	return err
}

func (w *Widget) Pause() error {
	_, err := w.command("set_property", "pause", true)
	return err
}

// Stop pauses and cues the item again
func (w *Widget) Stop() error {
	if _, err := w.command("set_property", "pause", true); err != nil {
		return err
	}
	w.mu.Lock()
	w.started = false
	w.paused = true
	if w.loaded {
		w.emitStateLocked()
	}
	w.mu.Unlock()
	return nil
}

// SeekTo jumps to an absolute position. mpv always seeks into unbuffered
// ranges, so allowAhead has no effect.
func (w *Widget) SeekTo(seconds float64, allowAhead bool) error {
	_, err := w.command("seek", seconds, "absolute+exact")
	return err
}

func (w *Widget) CurrentTime() (float64, error) {
	return w.floatProperty("time-pos")
}

// Duration reports the media length
func (w *Widget) Duration() (float64, error) {
	return w.floatProperty("duration")
}

func (w *Widget) floatProperty(name string) (float64, error) {
	data, err := w.command("get_property", name)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("unexpected %s value %s", name, data)
	}
	return v, nil
}

func (w *Widget) State() (models.PlaybackState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return models.StateUnknown, ErrConnClosed
	}
	return w.stateLocked(), nil
}

// LoadItem replaces the file in the running instance
func (w *Widget) LoadItem(itemID string, start float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.conn.Command(ctx, "set_property", "pause", true); err != nil {
		return err
	}
	return w.load(ctx, itemID, start)
}

func (w *Widget) Destroy() error {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return ErrConnClosed
	}
	w.destroyed = true
	w.mu.Unlock()

	w.command("quit")
	w.queue.Close()
	err := w.conn.Close()
	if w.onClose != nil {
		if cerr := w.onClose(); cerr != nil {
			return cerr
		}
	}
	return err
}
