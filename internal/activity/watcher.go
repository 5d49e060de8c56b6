// Package activity receives browser signals over a loopback HTTP endpoint.
// A small page extension posts visibility and clipboard events here; the
// watcher turns them into proctoring events for the session controller.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Kind identifies a browser signal.
const (
	KindVisibility = "visibility"
	KindCopy       = "copy"
	KindPaste      = "paste"
)

// Event is one observed browser action.
type Event struct {
	// Kind is one of the Kind* constants.
	Kind string
	// Hidden is meaningful for visibility events only.
	Hidden bool
	At     time.Time
}

type signalRequest struct {
	Kind   string `json:"kind" binding:"required"`
	Hidden bool   `json:"hidden"`
}

// Watcher serves POST /signal on a loopback address and publishes events.
type Watcher struct {
	log    *slog.Logger
	addr   string
	server *http.Server

	mu      sync.Mutex
	focused bool
	events  chan Event
	closed  bool
}

// NewWatcher creates a watcher bound to addr (typically 127.0.0.1:0 or a
// fixed local port). The browser page is assumed focused until told
// otherwise.
func NewWatcher(addr string) *Watcher {
	return &Watcher{
		log:     slog.Default().With("component", "activity"),
		addr:    addr,
		focused: true,
		events:  make(chan Event, 64),
	}
}

// Watch starts serving and returns the bound address. The server stops
// when ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) (string, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/signal", w.handleSignal)

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", w.addr, err)
	}

	w.server = &http.Server{Handler: router}
	go func() {
		if err := w.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			w.log.Error("activity server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)

		w.mu.Lock()
		if !w.closed {
			w.closed = true
			close(w.events)
		}
		w.mu.Unlock()
	}()

	bound := ln.Addr().String()
	w.log.Info("activity endpoint listening", "addr", bound)
	return bound, nil
}

func (w *Watcher) handleSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Kind {
	case KindVisibility, KindCopy, KindPaste:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown signal kind: %s", req.Kind)})
		return
	}

	ev := Event{Kind: req.Kind, Hidden: req.Hidden, At: time.Now().UTC()}

	w.mu.Lock()
	if req.Kind == KindVisibility {
		w.focused = !req.Hidden
	}
	if w.closed {
		w.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"accepted": false})
		return
	}
	select {
	case w.events <- ev:
		w.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	default:
		w.mu.Unlock()
		// Consumer stalled; dropping here beats blocking the browser.
		w.log.Warn("activity event dropped, queue full", "kind", req.Kind)
		c.JSON(http.StatusOK, gin.H{"accepted": false})
	}
}

// Events returns the stream of observed browser actions. The channel is
// closed when the watcher's context ends.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// WindowFocused reports whether the exam page was visible at the last
// signal.
func (w *Watcher) WindowFocused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.focused
}
