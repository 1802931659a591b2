// Package visualiser streams finished pipeline frames to remote viewers
// over gRPC. Frames are PNG encoded off the tick path; slow clients drop
// frames instead of stalling the pipeline.
package visualiser

import (
	"bytes"
	"fmt"
	"image/png"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"google.golang.org/grpc"

	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

// Config holds configuration for the visualiser gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// QueueSize bounds frames waiting to be encoded.
	QueueSize int

	// ClientBuffer bounds encoded frames waiting per client.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   5,
		QueueSize:    8,
		ClientBuffer: 4,
	}
}

// EncodedFrame is one PNG-encoded output.
type EncodedFrame struct {
	Tick uint64
	PNG  []byte
}

// Publisher manages the gRPC server and frame fan-out.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	frameChan chan *pipeline.Output
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	latestMu sync.RWMutex
	latest   *EncodedFrame

	frameCount    atomic.Uint64
	encodedCount  atomic.Uint64
	droppedFrames atomic.Uint64
	clientCount   atomic.Int32
	encodeErrors  atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id      string
	frameCh chan *EncodedFrame
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	d := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = d.MaxClients
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = d.ClientBuffer
	}
	return &Publisher{
		config:    cfg,
		frameChan: make(chan *pipeline.Output, cfg.QueueSize),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on the configured address and serves gRPC.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves gRPC on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterService(p.server, NewServer(p))

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[Visualiser] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[Visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}
	p.wg.Wait()
	log.Printf("[Visualiser] gRPC server stopped")
}

// Observe implements runner.Observer.
func (p *Publisher) Observe(out *pipeline.Output) { p.Publish(out) }

// Publish queues an output for encoding. It never blocks; when the queue
// is full the frame is dropped.
func (p *Publisher) Publish(out *pipeline.Output) {
	if !p.running.Load() || out == nil || out.Image == nil {
		return
	}
	select {
	case p.frameChan <- out:
		p.frameCount.Inc()
	default:
		dropped := p.droppedFrames.Inc()
		if dropped%100 == 1 {
			log.Printf("[Visualiser] DROPPED frame %d (total dropped: %d), queue full", out.Tick, dropped)
		}
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case out := <-p.frameChan:
			enc, err := encodeOutput(out)
			if err != nil {
				p.encodeErrors.Inc()
				log.Printf("[Visualiser] encode frame %d: %v", out.Tick, err)
				continue
			}
			p.encodedCount.Inc()
			p.latestMu.Lock()
			p.latest = enc
			p.latestMu.Unlock()

			p.clientsMu.RLock()
			for _, client := range p.clients {
				select {
				case client.frameCh <- enc:
				default:
					p.droppedFrames.Inc()
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func encodeOutput(out *pipeline.Output) (*EncodedFrame, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, out.Image); err != nil {
		return nil, err
	}
	return &EncodedFrame{Tick: out.Tick, PNG: buf.Bytes()}, nil
}

// Latest returns the most recently encoded frame, nil before the first.
func (p *Publisher) Latest() *EncodedFrame {
	p.latestMu.RLock()
	defer p.latestMu.RUnlock()
	return p.latest
}

func (p *Publisher) addClient() (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("too many clients (max %d)", p.config.MaxClients)
	}
	client := &clientStream{
		id:      uuid.NewString(),
		frameCh: make(chan *EncodedFrame, p.config.ClientBuffer),
	}
	p.clients[client.id] = client
	n := p.clientCount.Inc()
	log.Printf("[Visualiser] Client connected: %s (total: %d)", client.id, n)
	return client, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; !ok {
		return
	}
	delete(p.clients, id)
	n := p.clientCount.Dec()
	log.Printf("[Visualiser] Client disconnected: %s (remaining: %d)", id, n)
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64    `json:"frame_count"`
	EncodedCount  uint64    `json:"encoded_count"`
	DroppedFrames uint64    `json:"dropped_frames"`
	EncodeErrors  uint64    `json:"encode_errors"`
	ClientCount   int32     `json:"client_count"`
	Running       bool      `json:"running"`
	Timestamp     time.Time `json:"timestamp"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		EncodedCount:  p.encodedCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		EncodeErrors:  p.encodeErrors.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
		Timestamp:     time.Now(),
	}
}

// GRPCServer returns the underlying gRPC server, nil before Start.
func (p *Publisher) GRPCServer() *grpc.Server {
	return p.server
}
