// Package sink pushes the shared color to the physical light. The bulb
// speaks the WiZ protocol: a JSON "setPilot" datagram on UDP port 38899,
// one-way, no acknowledgement wanted.
package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
)

// Sink receives the shared color after every accepted color mutation.
type Sink interface {
	SetColor(hexColor string)
}

// Noop is used when no bulb is configured.
type Noop struct{}

func (Noop) SetColor(string) {}

type pilotMessage struct {
	Method string      `json:"method"`
	Params pilotParams `json:"params"`
}

type pilotParams struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// WizBulb forwards colors to one bulb. SetColor never blocks the caller: the
// color lands in a small buffer drained by a worker goroutine, and when the
// buffer is full the oldest pending color is stale anyway, so the new one is
// dropped on the floor and logged.
type WizBulb struct {
	addr   string
	colors chan [3]uint8
	logger *slog.Logger
}

// NewWizBulb starts the sender worker. The worker stops when ctx is done.
func NewWizBulb(ctx context.Context, logger *slog.Logger, addr string) *WizBulb {
	w := &WizBulb{
		addr:   addr,
		colors: make(chan [3]uint8, 8),
		logger: logger.With(slog.String("component", "wiz_sink"), slog.String("addr", addr)),
	}
	go w.run(ctx)
	return w
}

func (w *WizBulb) SetColor(hexColor string) {
	rgb, ok := parseHex(hexColor)
	if !ok {
		w.logger.Warn("sink given non-hex color", slog.String("color", hexColor))
		return
	}
	select {
	case w.colors <- rgb:
	default:
		w.logger.Warn("sink buffer full, dropping color")
	}
}

func (w *WizBulb) run(ctx context.Context) {
	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case rgb := <-w.colors:
			if conn == nil {
				c, err := net.Dial("udp", w.addr)
				if err != nil {
					w.logger.Warn("bulb unreachable", slog.Any("error", err))
					continue
				}
				conn = c
			}
			msg, err := json.Marshal(pilotMessage{
				Method: "setPilot",
				Params: pilotParams{R: rgb[0], G: rgb[1], B: rgb[2]},
			})
			if err != nil {
				continue
			}
			if _, err := conn.Write(msg); err != nil {
				w.logger.Warn("bulb write failed", slog.Any("error", err))
				conn.Close()
				conn = nil
			}
		}
	}
}

// parseHex expects the sanitized "#rrggbb" form.
func parseHex(s string) ([3]uint8, bool) {
	if len(s) != 7 || s[0] != '#' {
		return [3]uint8{}, false
	}
	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(s[1+2*i:3+2*i], 16, 8)
		if err != nil {
			return [3]uint8{}, false
		}
		rgb[i] = uint8(v)
	}
	return rgb, true
}
