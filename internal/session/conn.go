package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/skypro1111/ws-audio-echo/internal/protocol"
)

// ErrTransportSend is matched by every echo send failure
var ErrTransportSend = errors.New("transport send failed")

// Conn is the transport side of a session. Implementations must allow
// concurrent senders and must give up when ctx is done.
type Conn interface {
	SendBinary(ctx context.Context, data []byte) error
	SendText(ctx context.Context, data []byte) error
	Close() error
}

// Echo sends each packet back on conn as one binary frame, in order. The
// first failure aborts the remaining sends; the number of frames sent before
// it is returned together with an error matching ErrTransportSend.
func Echo(ctx context.Context, conn Conn, packets [][]byte) (int, error) {
	for i, packet := range packets {
		if err := ctx.Err(); err != nil {
			return i, fmt.Errorf("%w: frame %d of %d: %w", ErrTransportSend, i+1, len(packets), err)
		}
		if err := conn.SendBinary(ctx, protocol.EncodeFrame(packet)); err != nil {
			return i, fmt.Errorf("%w: frame %d of %d: %w", ErrTransportSend, i+1, len(packets), err)
		}
	}
	return len(packets), nil
}
