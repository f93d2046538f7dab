package serialio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/power"
	"github.com/chrissnell/drynomore/internal/sensor"
)

// Board is what a server exposes: the analog inputs and the shift register.
type Board interface {
	sensor.ADC
	power.Pins
}

// Serve answers requests from rw against board until the stream ends.
func Serve(rw io.ReadWriter, board Board) error {
	sc := bufio.NewScanner(rw)
	for sc.Scan() {
		reply := handle(board, sc.Text())
		if _, err := io.WriteString(rw, reply+"\n"); err != nil {
			return err
		}
	}
	return sc.Err()
}

func handle(board Board, line string) string {
	f := strings.Fields(line)
	if len(f) == 0 {
		return "E empty request"
	}
	switch {
	case f[0] == "A" && len(f) == 2:
		ch, err := strconv.Atoi(f[1])
		if err != nil {
			return "E bad channel " + f[1]
		}
		v, err := board.ReadRaw(ch)
		if err != nil {
			return "E " + err.Error()
		}
		return strconv.Itoa(int(v))
	case f[0] == "P" && len(f) == 3:
		pin, err := strconv.Atoi(f[1])
		if err != nil || pin < int(power.PinData) || pin > int(power.PinOutputEnable) {
			return "E bad pin " + f[1]
		}
		if f[2] != "0" && f[2] != "1" {
			return "E bad level " + f[2]
		}
		if err := board.Write(power.Pin(pin), f[2] == "1"); err != nil {
			return "E " + err.Error()
		}
		return "OK"
	}
	return fmt.Sprintf("E unknown request %q", line)
}

// ListenAndServe serves board to one TCP client at a time until ctx is
// cancelled.
func ListenAndServe(ctx context.Context, addr string, board Board, logger *zap.SugaredLogger) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %v: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	logger.Infof("io board listening on %v", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting io client: %w", err)
		}
		logger.Infof("io client %v connected", conn.RemoteAddr())
		if err := Serve(conn, board); err != nil {
			logger.Warnf("io client %v: %v", conn.RemoteAddr(), err)
		}
		conn.Close()
		logger.Infof("io client %v disconnected", conn.RemoteAddr())
	}
}
