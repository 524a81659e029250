package conn

import (
	"net"
	"reflect"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// StreamLayer is used with the NetworkTransport to provide
// the low level stream abstraction.
type StreamLayer interface {
	net.Listener

	// Dial is used to create a new outgoing connection
	Dial(address string, timeout time.Duration) (net.Conn, error)
}

// TCPStreamLayer implements StreamLayer interface for plain TCP.
type TCPStreamLayer struct {
	listener *net.TCPListener
}

// Dial implements the StreamLayer interface.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", address, timeout)
}

// Accept implements the net.Listener interface.
func (t *TCPStreamLayer) Accept() (c net.Conn, err error) {
	return t.listener.Accept()
}

// Close implements the net.Listener interface.
func (t *TCPStreamLayer) Close() (err error) {
	return t.listener.Close()
}

// Addr implements the net.Listener interface.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// NewTCPTransport returns a NetworkTransport that is built on top of
// a TCP streaming transport layer. A bindAddr with port 0 picks a free port,
// LocalAddr reports the one chosen.
func NewTCPTransport(
	bindAddr string,
	timeout time.Duration,
	logger hclog.Logger,
	maxPool int,
	reflectedTypesMap map[uint8]reflect.Type,
) (*NetworkTransport, error) {
	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", bindAddr)
	}
	stream := &TCPStreamLayer{
		listener: list.(*net.TCPListener),
	}
	return NewNetworkTransportWithConfig(&NetworkTransportConfig{
		MaxPool:           maxPool,
		ReflectedTypesMap: reflectedTypesMap,
		Logger:            logger,
		Stream:            stream,
		Timeout:           timeout,
	}), nil
}
