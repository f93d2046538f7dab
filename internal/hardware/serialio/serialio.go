// Package serialio talks to an IO board over a line-oriented serial or TCP
// protocol. Every request is one line and gets one line back:
//
//	A <channel>          ->  <raw value>
//	P <pin> <0|1>        ->  OK
//
// Errors are answered with "E <message>".
package serialio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	serial "github.com/tarm/goserial"
	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/power"
)

const (
	DefaultBaud        = 115200
	DefaultDialTimeout = 10 * time.Second
	ioTimeout          = 5 * time.Second
	retryDelay         = 5 * time.Second
)

// ErrRemote wraps an "E" reply from the board.
var ErrRemote = errors.New("io board error")

// Config selects the transport. SerialDevice wins over Address.
type Config struct {
	SerialDevice string
	Baud         int
	Address      string
}

// Client implements sensor.ADC and power.Pins against a remote board.
type Client struct {
	mu   sync.Mutex
	rwc  io.ReadWriteCloser
	conn net.Conn
	r    *bufio.Reader
	log  *zap.SugaredLogger
}

// NewClient wraps an already open stream.
func NewClient(rwc io.ReadWriteCloser, logger *zap.SugaredLogger) *Client {
	c := &Client{rwc: rwc, r: bufio.NewReader(rwc), log: logger}
	if conn, ok := rwc.(net.Conn); ok {
		c.conn = conn
	}
	return c
}

// Connect opens the configured transport, retrying until it succeeds or ctx
// is cancelled.
func Connect(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.SerialDevice == "" && cfg.Address == "" {
		return nil, errors.New("must provide either a serial device or a network address for the io board")
	}
	for {
		rwc, err := open(cfg, logger)
		if err == nil {
			return NewClient(rwc, logger), nil
		}
		logger.Errorf("%v; trying again in %v", err, retryDelay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

func open(cfg Config, logger *zap.SugaredLogger) (io.ReadWriteCloser, error) {
	if cfg.SerialDevice != "" {
		baud := cfg.Baud
		if baud == 0 {
			baud = DefaultBaud
		}
		logger.Debugf("opening serial port %s at %d baud", cfg.SerialDevice, baud)
		rwc, err := serial.OpenPort(&serial.Config{Name: cfg.SerialDevice, Baud: baud})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.SerialDevice, err)
		}
		return rwc, nil
	}

	logger.Debugf("connecting to io board at %v", cfg.Address)
	conn, err := net.DialTimeout("tcp", cfg.Address, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not connect to io board at %v: %w", cfg.Address, err)
	}
	return conn, nil
}

func (c *Client) Close() error {
	return c.rwc.Close()
}

// ReadRaw asks the board for one conversion of an analog channel.
func (c *Client) ReadRaw(channel int) (uint16, error) {
	reply, err := c.roundTrip(fmt.Sprintf("A %d", channel))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(reply, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("bad reading %q from channel %d: %w", reply, channel, err)
	}
	return uint16(v), nil
}

// Write sets a shift register control line.
func (c *Client) Write(pin power.Pin, high bool) error {
	level := 0
	if high {
		level = 1
	}
	reply, err := c.roundTrip(fmt.Sprintf("P %d %d", int(pin), level))
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("unexpected reply %q to %v write", reply, pin)
	}
	return nil
}

func (c *Client) roundTrip(req string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.SetDeadline(time.Now().Add(ioTimeout))
	}
	if _, err := io.WriteString(c.rwc, req+"\n"); err != nil {
		return "", fmt.Errorf("sending %q: %w", req, err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading reply to %q: %w", req, err)
	}
	line = strings.TrimSpace(line)
	if msg, ok := strings.CutPrefix(line, "E "); ok {
		return "", fmt.Errorf("%w: %s", ErrRemote, msg)
	}
	return line, nil
}
