package conn

import (
	"bufio"
	"context"
	"io"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/codec"
	"github.com/pkg/errors"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrUnknownMsgType is returned when a frame carries a tag missing from the types map.
	ErrUnknownMsgType = errors.New("unknown msg type")
)

// MsgWithSig encapsulates the original msg with the ED25519 signature.
type MsgWithSig struct {
	Msg interface{}
	Sig []byte
}

/*
NetworkTransport provides a network based transport that can be
used to communicate with the remote nodes. It requires
an underlying stream layer to provide a stream abstraction, which can
be simple TCP, TLS, etc.

Each frame starts with a byte that indicates the message type, followed
by the msgpack encoded msg and signature.
*/
type NetworkTransport struct {
	connPool     map[string][]*NetConn
	connPoolLock sync.Mutex
	maxPool      int

	msgCh chan MsgWithSig // hands the decoded msgs to the node

	reflectedTypesMap map[uint8]reflect.Type

	logger hclog.Logger

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	// streamCtx is used to cancel existing connection handlers.
	streamCtx    context.Context
	streamCancel context.CancelFunc

	timeout time.Duration
}

// MsgChan returns the channel carrying every msg received by the transport.
func (n *NetworkTransport) MsgChan() <-chan MsgWithSig {
	return n.msgCh
}

// listen is used to handling incoming connections.
func (n *NetworkTransport) listen() {
	const baseDelay = 5 * time.Millisecond
	const maxDelay = 1 * time.Second

	var loopDelay time.Duration
	for {
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			if loopDelay == 0 {
				loopDelay = baseDelay
			} else {
				loopDelay *= 2
			}
			if loopDelay > maxDelay {
				loopDelay = maxDelay
			}
			n.logger.Error("failed to accept connection", "error", err, "retry-in", loopDelay)

			select {
			case <-n.shutdownCh:
				return
			case <-time.After(loopDelay):
				continue
			}
		}
		// No error, reset loop delay
		loopDelay = 0

		n.logger.Debug("accepted connection", "local-address", n.LocalAddr(), "remote-address", conn.RemoteAddr().String())

		go n.handleConn(n.streamCtx, conn)
	}
}

// handleConn is used to handle an inbound connection for its lifespan. The
// handler will exit when the passed context is cancelled or the connection is
// closed.
func (n *NetworkTransport) handleConn(connCtx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	dec := codec.NewDecoder(r, &codec.MsgpackHandle{})

	for {
		select {
		case <-connCtx.Done():
			n.logger.Debug("stream layer is closed")
			return
		default:
		}

		if err := n.handleMsg(r, dec); err != nil {
			if errors.Cause(err) != io.EOF && errors.Cause(err) != ErrTransportShutdown {
				n.logger.Error("failed to decode incoming msg", "error", err)
			}
			return
		}
	}
}

// handleMsg is used to decode and deliver a single msg.
func (n *NetworkTransport) handleMsg(r *bufio.Reader, dec *codec.Decoder) error {
	msgType, err := r.ReadByte()
	if err != nil {
		return err
	}

	reflectedType, ok := n.reflectedTypesMap[msgType]
	if !ok {
		return errors.Wrapf(ErrUnknownMsgType, "tag %d", msgType)
	}
	msgBody := reflect.Zero(reflectedType).Interface()
	if err := dec.Decode(&msgBody); err != nil {
		return errors.Wrapf(err, "decode msg of tag %d", msgType)
	}

	var sig []byte
	if err := dec.Decode(&sig); err != nil {
		return errors.Wrap(err, "decode signature")
	}

	select {
	case n.msgCh <- MsgWithSig{Msg: msgBody, Sig: sig}:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}
	return nil
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	return n.stream.Addr().String()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if n.shutdown {
		return nil
	}
	close(n.shutdownCh)
	n.streamCancel()
	n.shutdown = true
	err := n.stream.Close()

	n.connPoolLock.Lock()
	for target, netConns := range n.connPool {
		for _, netC := range netConns {
			netC.Release()
		}
		delete(n.connPool, target)
	}
	n.connPoolLock.Unlock()
	return err
}

func (n *NetworkTransport) dialConn(target string) (*NetConn, error) {
	conn, err := n.stream.Dial(target, n.timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}

	netC := &NetConn{
		target: target,
		conn:   conn,
		w:      bufio.NewWriter(conn),
	}
	netC.enc = codec.NewEncoder(netC.w, &codec.MsgpackHandle{})
	return netC, nil
}

// GetConn returns an idle connection. If there is no one, dial a new connection.
func (n *NetworkTransport) GetConn(target string) (*NetConn, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}
	n.connPoolLock.Lock()
	netConns := n.connPool[target]
	if num := len(netConns); num > 0 {
		var netC *NetConn
		netC, netConns[num-1] = netConns[num-1], nil
		n.connPool[target] = netConns[:num-1]
		n.connPoolLock.Unlock()
		return netC, nil
	}
	n.connPoolLock.Unlock()

	return n.dialConn(target)
}

// ReturnConn returns the connection back to the pool.
// To avoid establishing connections repeatedly, try to maintain the net connection for later reusage.
func (n *NetworkTransport) ReturnConn(netC *NetConn) error {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	key := netC.target
	netConns := n.connPool[key]
	if !n.IsShutdown() && len(netConns) < n.maxPool {
		n.connPool[key] = append(netConns, netC)
		return nil
	}
	return netC.Release()
}

// Send takes a pooled connection to target, writes one frame on it and gives it back.
// A connection that failed to write is dropped instead of returned.
func (n *NetworkTransport) Send(target string, msgType uint8, msg interface{}, sig []byte) error {
	netC, err := n.GetConn(target)
	if err != nil {
		return err
	}
	if err := SendMsg(netC, msgType, msg, sig); err != nil {
		return errors.Wrapf(err, "send msg of tag %d to %s", msgType, target)
	}
	return n.ReturnConn(netC)
}

// NetworkTransportConfig encapsulates configuration for the network transport layer.
type NetworkTransportConfig struct {
	MaxPool int

	ReflectedTypesMap map[uint8]reflect.Type

	Logger hclog.Logger

	// Dialer
	Stream StreamLayer

	// Timeout bounds the dial of an outgoing connection.
	Timeout time.Duration
}

// NewNetworkTransportWithConfig creates a new network transport with the given config struct.
func NewNetworkTransportWithConfig(
	config *NetworkTransportConfig,
) *NetworkTransport {
	if config.Logger == nil {
		config.Logger = hclog.New(&hclog.LoggerOptions{
			Name:   "mysticeti-net",
			Output: hclog.DefaultOutput,
			Level:  hclog.DefaultLevel,
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	trans := &NetworkTransport{
		connPool:          make(map[string][]*NetConn),
		maxPool:           config.MaxPool,
		msgCh:             make(chan MsgWithSig, 64),
		reflectedTypesMap: config.ReflectedTypesMap,
		logger:            config.Logger,
		shutdownCh:        make(chan struct{}),
		stream:            config.Stream,
		streamCtx:         ctx,
		streamCancel:      cancel,
		timeout:           config.Timeout,
	}

	go trans.listen()
	return trans
}

// SendMsg is used to encode and send the msg. The connection is released on failure.
func SendMsg(conn *NetConn, msgType uint8, args interface{}, sig []byte) error {
	fail := func(err error) error {
		conn.Release()
		return err
	}
	if err := conn.w.WriteByte(msgType); err != nil {
		return fail(err)
	}
	if err := conn.enc.Encode(args); err != nil {
		return fail(err)
	}
	// the ED25519 signature follows the msg
	if err := conn.enc.Encode(sig); err != nil {
		return fail(err)
	}
	if err := conn.w.Flush(); err != nil {
		return fail(err)
	}
	return nil
}
