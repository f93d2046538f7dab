package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/metrics"
	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/types"
)

const (
	DefaultReadTimeout   = 30 * time.Second
	DefaultIdleTimeout   = time.Second
	DefaultUploadTimeout = 10 * time.Second
)

// ListenerConfig tunes the node listener.
type ListenerConfig struct {
	// Addr is the TCP listen address, e.g. ":42424".
	Addr string
	// ReadTimeout bounds the wait for the next frame of a connection.
	ReadTimeout time.Duration
	// IdleTimeout ends a text message when the node goes quiet.
	IdleTimeout time.Duration
	// UploadTimeout bounds the wait for a node's settings upload.
	UploadTimeout time.Duration
}

// Listener accepts node connections one at a time and services their frames.
type Listener struct {
	cfg    ListenerConfig
	store  *Store
	queue  *Queue
	events chan<- types.Event
	log    *zap.SugaredLogger

	mu   sync.Mutex
	addr net.Addr
}

// NewListener wires a listener to the store and alert queue. events, when not
// nil, receives every accepted status report and alert; sends never block.
func NewListener(cfg ListenerConfig, store *Store, queue *Queue, events chan<- types.Event, logger *zap.SugaredLogger) *Listener {
	if cfg.Addr == "" {
		cfg.Addr = ":" + strconv.Itoa(protocol.DefaultPort)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if logger == nil {
		logger = log.Named("listener")
	}
	return &Listener{
		cfg:    cfg,
		store:  store,
		queue:  queue,
		events: events,
		log:    logger,
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %v: %w", l.cfg.Addr, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Connections are
// handled sequentially.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.mu.Lock()
	l.addr = ln.Addr()
	l.mu.Unlock()
	l.log.Infof("listening for nodes on %v", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info("cancellation request received, closing node listener")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accepting node connection: %w", err)
		}
		metrics.Connections.Inc()
		l.handle(ctx, conn)
	}
}

// Addr returns the bound address once Serve has started.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	node := remoteHost(conn)
	logger := l.log.With("node", node)
	logger.Debug("node connected")

	r := bufio.NewReader(conn)
	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
			logger.Errorf("setting read deadline: %v", err)
			return
		}
		b, err := r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warnf("reading frame tag: %v", err)
			}
			return
		}

		tag, err := protocol.ParseTag(b)
		if err != nil {
			// without a length there is no way to resynchronize
			metrics.FramesRejected.WithLabelValues("unknown_tag").Inc()
			logger.Warnf("abandoning connection: %v", err)
			return
		}
		metrics.FramesReceived.WithLabelValues(tag.String()).Inc()

		switch {
		case tag.IsMessage():
			err = l.handleMessage(conn, r, tag, node)
		case tag == protocol.TagReportStatus:
			err = l.handleStatus(r, node)
		case tag == protocol.TagRequestSettings:
			err = l.handleSettingsRequest(conn, r)
		}
		if err != nil {
			logger.Warnf("abandoning connection after %v frame: %v", tag, err)
			return
		}
	}
}

// handleMessage reads a text payload, which ends at the next frame tag, at
// EOF or when the node stays quiet for the idle timeout.
func (l *Listener) handleMessage(conn net.Conn, r *bufio.Reader, tag protocol.Tag, node string) error {
	text := make([]byte, 0, 64)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout)); err != nil {
			return err
		}
		next, err := r.Peek(1)
		if err != nil {
			if !errors.Is(err, io.EOF) && !isTimeout(err) {
				return err
			}
			break
		}
		if protocol.IsFrameStart(next[0]) {
			break
		}
		c, _ := r.ReadByte()
		if len(text) < protocol.MaxMessageSize {
			text = append(text, c)
		}
	}

	if tag == protocol.TagFailure {
		l.store.MarkHardwareFailure()
		metrics.SettingsChanges.WithLabelValues("failure").Inc()
	}

	a := types.Alert{Timestamp: time.Now(), Node: node, Tag: tag, Text: string(text)}
	if err := l.queue.Push(a); err != nil {
		l.log.Warn(err)
	}
	l.emit(types.AlertEvent(a))
	return nil
}

func (l *Listener) handleStatus(r *bufio.Reader, node string) error {
	payload := make([]byte, protocol.StatusSize)
	if n, err := io.ReadFull(r, payload); err != nil {
		metrics.FramesRejected.WithLabelValues("status_size").Inc()
		return fmt.Errorf("status payload of %d bytes discarded: %w", n, err)
	}

	var st protocol.Status
	if err := st.UnmarshalBinary(payload); err != nil {
		metrics.FramesRejected.WithLabelValues("status_decode").Inc()
		return err
	}

	now := time.Now()
	if l.store.OfferStatus(st, now) {
		l.log.Debugw("status report stored", "node", node)
		l.emit(types.StatusEvent(node, now, st))
	}
	return nil
}

// handleSettingsRequest answers with the stored settings, or asks the node
// for its own with the placeholder byte when none exist.
func (l *Listener) handleSettingsRequest(conn net.Conn, r *bufio.Reader) error {
	if set, _, ok := l.store.Settings(); ok {
		payload, err := set.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := conn.Write(payload); err != nil {
			return fmt.Errorf("writing settings: %w", err)
		}
		return nil
	}

	if _, err := conn.Write([]byte{protocol.BootstrapPlaceholder}); err != nil {
		return fmt.Errorf("writing settings placeholder: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(l.cfg.UploadTimeout)); err != nil {
		return err
	}
	payload := make([]byte, protocol.SettingsSize)
	if n, err := io.ReadFull(r, payload); err != nil {
		metrics.FramesRejected.WithLabelValues("settings_size").Inc()
		return fmt.Errorf("settings upload of %d bytes discarded: %w", n, err)
	}

	var set protocol.Settings
	if err := set.UnmarshalBinary(payload); err != nil {
		return err
	}
	if err := set.Validate(); err != nil {
		metrics.FramesRejected.WithLabelValues("settings_invalid").Inc()
		return err
	}
	if l.store.Bootstrap(set) {
		metrics.SettingsChanges.WithLabelValues("bootstrap").Inc()
		l.log.Info("settings bootstrapped from node upload")
	}
	return nil
}

func (l *Listener) emit(ev types.Event) {
	if l.events == nil {
		return
	}
	select {
	case l.events <- ev:
	default:
		l.log.Warn("history distributor is full, dropping event")
	}
}

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
