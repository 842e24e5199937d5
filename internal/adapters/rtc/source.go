package rtc

import (
	"fmt"
	"net"

	"github.com/pion/rtp"

	"github.com/avroom/roomlink/internal/core"
)

// Source is an RTP packet source feeding an outbound track. Callers own
// video sources; the provider owns microphone sources.
type Source interface {
	core.MediaSource
	ReadRTP() (*rtp.Packet, error)
	Close() error
}

// UDPSource ingests RTP datagrams from a local UDP port, the usual way
// a headless agent is fed by an external capture pipeline.
type UDPSource struct {
	kind core.TrackKind
	conn *net.UDPConn
	buf  []byte
}

func NewUDPSource(kind core.TrackKind, port int) (*UDPSource, error) {
	if !kind.Valid() {
		return nil, providerErr("INVALID_PARAMS", "bad track kind %q", kind)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen rtp ingest: %w", err)
	}
	return &UDPSource{
		kind: kind,
		conn: conn,
		buf:  make([]byte, 1500),
	}, nil
}

func (s *UDPSource) ID() string {
	return fmt.Sprintf("udp:%s", s.conn.LocalAddr())
}

func (s *UDPSource) Kind() core.TrackKind { return s.kind }

func (s *UDPSource) ReadRTP() (*rtp.Packet, error) {
	n, _, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		return nil, err
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(s.buf[:n]); err != nil {
		return nil, err
	}
	return pkt, nil
}

func (s *UDPSource) Close() error { return s.conn.Close() }
