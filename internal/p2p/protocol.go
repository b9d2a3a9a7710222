package p2p

import (
	"sync"
	"sync/atomic"

	"github.com/nestrilabs/nestri-server/internal/logging"
	"github.com/nestrilabs/nestri-server/internal/proto"
)

var log = logging.L("p2p")

// outboundQueueSize bounds pending sends; past this, SendMessage fails
// with ErrQueueFull instead of growing without bound.
const outboundQueueSize = 1000

// Handler consumes one decoded inbound message. Handlers must be cheap and
// non-blocking; heavy work belongs on its own goroutine.
type Handler func(*proto.Message) error

// ProtocolStream multiplexes protobuf envelopes over one framed stream.
// A single reader goroutine decodes frames and dispatches them by payload
// type; a single writer goroutine drains the outbound queue. Senders never
// touch the underlying stream directly.
type ProtocolStream struct {
	stream *FramedStream

	cbMu      sync.RWMutex
	callbacks map[string]Handler

	txMu sync.RWMutex
	tx   chan []byte

	taskMu      sync.Mutex
	readerAlive atomic.Bool
	writerAlive atomic.Bool
}

// NewProtocolStream wraps a framed stream and starts the reader and writer
// goroutines.
func NewProtocolStream(stream *FramedStream) *ProtocolStream {
	p := &ProtocolStream{
		stream:    stream,
		callbacks: make(map[string]Handler),
	}
	p.Restart()
	return p
}

// RegisterCallback inserts or replaces the handler for a payload type.
// Safe to call at any time; frames decoded afterwards observe the new
// handler.
func (p *ProtocolStream) RegisterCallback(payloadType string, fn Handler) {
	p.cbMu.Lock()
	p.callbacks[payloadType] = fn
	p.cbMu.Unlock()
}

// SendMessage encodes the envelope and enqueues it for the writer. The
// read lock is held across the enqueue so shutdown cannot close the queue
// mid-send.
func (p *ProtocolStream) SendMessage(msg *proto.Message) error {
	data := msg.Marshal()

	p.txMu.RLock()
	defer p.txMu.RUnlock()

	if p.tx == nil {
		return ErrShutdown
	}
	select {
	case p.tx <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Restart re-spawns the reader and writer if either has exited. A no-op
// while both are alive.
func (p *ProtocolStream) Restart() {
	p.taskMu.Lock()
	defer p.taskMu.Unlock()

	if p.readerAlive.Load() && p.writerAlive.Load() {
		log.Warn("protocol stream already running, restart skipped")
		return
	}

	if !p.writerAlive.Load() {
		tx := make(chan []byte, outboundQueueSize)
		p.txMu.Lock()
		p.tx = tx
		p.txMu.Unlock()

		p.writerAlive.Store(true)
		go p.writeLoop(tx)
	}
	if !p.readerAlive.Load() {
		p.readerAlive.Store(true)
		go p.readLoop()
	}
}

// Close stops the writer by closing the outbound queue. Pending frames are
// drained first; subsequent SendMessage calls fail with ErrShutdown.
func (p *ProtocolStream) Close() {
	p.shutdown()
}

// shutdown closes the outbound queue so SendMessage starts returning
// ErrShutdown and the writer exits once drained. Safe to call more than
// once.
func (p *ProtocolStream) shutdown() {
	p.txMu.Lock()
	if p.tx != nil {
		close(p.tx)
		p.tx = nil
	}
	p.txMu.Unlock()
}

func (p *ProtocolStream) readLoop() {
	defer p.readerAlive.Store(false)

	for {
		data, err := p.stream.Receive()
		if err != nil {
			// A dead transport takes the whole stream down: close the
			// outbound queue so senders observe ErrShutdown.
			log.Error("receiving frame failed", "error", err)
			p.shutdown()
			return
		}

		msg, err := proto.Unmarshal(data)
		if err != nil {
			log.Warn("decoding message failed", "error", err)
			continue
		}
		if msg.Base == nil {
			log.Warn("decoded message has no base, dropping")
			continue
		}

		payloadType := msg.Base.PayloadType
		p.cbMu.RLock()
		callback, ok := p.callbacks[payloadType]
		p.cbMu.RUnlock()

		if !ok {
			log.Warn("no callback registered for payload type", "payloadType", payloadType)
			continue
		}
		if err := callback(msg); err != nil {
			log.Error("callback errored", "payloadType", payloadType, "error", err)
		}
	}
}

func (p *ProtocolStream) writeLoop(tx <-chan []byte) {
	defer p.writerAlive.Store(false)

	for data := range tx {
		if err := p.stream.Send(data); err != nil {
			log.Error("sending frame failed", "error", err)
			p.shutdown()
			return
		}
	}
	log.Info("outbound queue closed, exiting write loop")
}
