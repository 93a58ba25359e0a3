package p2p

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const maxPeerIDLen = 255

var ErrBadHandShake = errors.New("p2p: bad handshake")

type HandShakeFunc func(Peer) error

// DefaultHandShake names the peer after its remote address.
func DefaultHandShake(peer Peer) error {
	peer.SetID(peer.RemoteAddr().String())
	return nil
}

// IDHandShake exchanges node IDs. Each side writes its ID on one line and
// reads the other's; both ends of a connection must use it.
func IDHandShake(localID string, timeout time.Duration) HandShakeFunc {
	return func(peer Peer) error {
		if localID == "" || len(localID) > maxPeerIDLen || strings.ContainsAny(localID, "\r\n") {
			return fmt.Errorf("%w: invalid local id %q", ErrBadHandShake, localID)
		}
		if timeout > 0 {
			if err := peer.SetDeadline(time.Now().Add(timeout)); err != nil {
				return err
			}
			defer peer.SetDeadline(time.Time{})
		}

		if err := peer.Send([]byte(localID + "\n")); err != nil {
			return fmt.Errorf("send id: %w", err)
		}
		remote, err := readIDLine(peer)
		if err != nil {
			return err
		}
		peer.SetID(remote)
		return nil
	}
}

// readIDLine reads byte by byte so nothing past the newline is consumed
// before the connection's decoder takes over.
func readIDLine(r io.Reader) (string, error) {
	var (
		b  [1]byte
		sb strings.Builder
	)
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", fmt.Errorf("read id: %w", err)
		}
		if b[0] == '\n' {
			break
		}
		if sb.Len() >= maxPeerIDLen {
			return "", fmt.Errorf("%w: id too long", ErrBadHandShake)
		}
		sb.WriteByte(b[0])
	}
	id := strings.TrimSuffix(sb.String(), "\r")
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrBadHandShake)
	}
	return id, nil
}
