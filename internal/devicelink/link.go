// Package devicelink is the node side of the supervisor protocol. Every
// exchange powers the network adapter up, opens one TCP connection, runs its
// conversation and powers the adapter down again.
package devicelink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/protocol"
)

const (
	DefaultDialTimeout   = 10 * time.Second
	DefaultIOTimeout     = 10 * time.Second
	DefaultSettleTimeout = 500 * time.Millisecond
)

// ErrBadReply is returned when the supervisor answers a settings request
// with something that is neither a Settings record nor the placeholder.
var ErrBadReply = errors.New("unexpected settings reply")

// LinkPower switches the network adapter. A nil LinkPower means the link
// is always up.
type LinkPower interface {
	PowerUp() error
	PowerDown() error
}

// Config addresses the supervisor.
type Config struct {
	Address     string
	DialTimeout time.Duration
	// IOTimeout bounds every read and write of an exchange.
	IOTimeout time.Duration
	// SettleTimeout is how long to wait for the rest of a settings reply
	// once its first byte arrived. A lone placeholder byte followed by
	// silence means the supervisor wants our settings.
	SettleTimeout time.Duration
}

// Link implements the node's uplink.
type Link struct {
	cfg    Config
	power  LinkPower
	dialer net.Dialer
	log    *zap.SugaredLogger
}

// New returns a link to the supervisor at cfg.Address.
func New(cfg Config, power LinkPower, logger *zap.SugaredLogger) *Link {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	if logger == nil {
		logger = log.Named("devicelink")
	}
	return &Link{
		cfg:    cfg,
		power:  power,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
		log:    logger,
	}
}

// SyncSettings asks the supervisor for its settings. When the supervisor
// answers with the placeholder byte, local is uploaded and returned.
func (l *Link) SyncSettings(ctx context.Context, local protocol.Settings) (protocol.Settings, error) {
	out := local
	err := l.exchange(ctx, func(conn net.Conn) error {
		if _, err := conn.Write([]byte{byte(protocol.TagRequestSettings)}); err != nil {
			return fmt.Errorf("requesting settings: %w", err)
		}

		buf := make([]byte, protocol.SettingsSize)
		if _, err := io.ReadFull(conn, buf[:1]); err != nil {
			return fmt.Errorf("reading settings reply: %w", err)
		}

		if err := conn.SetReadDeadline(time.Now().Add(l.cfg.SettleTimeout)); err != nil {
			return err
		}
		n, err := io.ReadFull(conn, buf[1:])
		switch {
		case err == nil:
			var remote protocol.Settings
			if err := remote.UnmarshalBinary(buf); err != nil {
				return err
			}
			l.log.Debug("received settings from supervisor")
			out = remote
			return nil
		case n == 0 && buf[0] == protocol.BootstrapPlaceholder && isTimeoutOrEOF(err):
			payload, err := local.MarshalBinary()
			if err != nil {
				return err
			}
			if err := conn.SetWriteDeadline(time.Now().Add(l.cfg.IOTimeout)); err != nil {
				return err
			}
			if _, err := conn.Write(payload); err != nil {
				return fmt.Errorf("uploading settings: %w", err)
			}
			l.log.Info("supervisor has no settings yet, uploaded ours")
			return nil
		default:
			return fmt.Errorf("%w: got %d bytes: %v", ErrBadReply, n+1, err)
		}
	})
	if err != nil {
		return local, err
	}
	return out, nil
}

// Report sends msgs followed by the status record over one connection.
func (l *Link) Report(ctx context.Context, msgs []protocol.Message, status protocol.Status) error {
	return l.exchange(ctx, func(conn net.Conn) error {
		for _, m := range msgs {
			if err := writeMessage(conn, m); err != nil {
				return err
			}
		}
		frame, err := protocol.EncodeReport(status)
		if err != nil {
			return err
		}
		if _, err := conn.Write(frame); err != nil {
			return fmt.Errorf("sending status: %w", err)
		}
		return nil
	})
}

// Alert sends a single message over its own connection.
func (l *Link) Alert(ctx context.Context, msg protocol.Message) error {
	return l.exchange(ctx, func(conn net.Conn) error {
		return writeMessage(conn, msg)
	})
}

func writeMessage(w io.Writer, m protocol.Message) error {
	frame, err := m.Encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("sending %v message: %w", m.Tag, err)
	}
	return nil
}

// exchange runs fn on a fresh connection with the link powered. The link is
// powered down again whatever fn returns.
func (l *Link) exchange(ctx context.Context, fn func(net.Conn) error) (err error) {
	if l.power != nil {
		if err := l.power.PowerUp(); err != nil {
			return fmt.Errorf("powering up link: %w", err)
		}
		defer func() {
			if perr := l.power.PowerDown(); perr != nil {
				l.log.Errorf("powering down link: %v", perr)
			}
		}()
	}

	conn, err := l.dialer.DialContext(ctx, "tcp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("could not connect to %v: %w", l.cfg.Address, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(l.cfg.IOTimeout)); err != nil {
		return err
	}
	return fn(conn)
}

func isTimeoutOrEOF(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
