package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hkevin01/wifi-radar/internal/csi"
	"github.com/hkevin01/wifi-radar/internal/timeutil"
)

// Config holds configuration for the pose stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50052")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// ClientBuffer is the number of updates queued per client before
	// further updates are dropped for that client
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50052",
		MaxClients:   8,
		ClientBuffer: 32,
	}
}

type client struct {
	id      uint64
	ch      chan *structpb.Struct
	dropped atomic.Uint64
}

// Publisher is a csi.Sink that fans every update out to the connected
// stream clients. It never blocks the caller.
type Publisher struct {
	config Config
	clock  timeutil.Clock

	clientsMu sync.RWMutex
	clients   map[uint64]*client
	nextID    uint64

	lastUpdate atomic.Int64 // unix nanos of the newest pose update

	published atomic.Uint64
	dropped   atomic.Uint64

	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
}

var _ csi.Sink = (*Publisher)(nil)

// NewPublisher creates a publisher. Call Start to serve it over TCP, or
// Register it on an existing gRPC server.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		clock:   timeutil.RealClock{},
		clients: make(map[uint64]*client),
	}
}

// SetClock replaces the clock used for the per-client drop log.
func (p *Publisher) SetClock(c timeutil.Clock) { p.clock = c }

func (p *Publisher) OnPoseUpdate(ts time.Time, poses []csi.PoseEstimate) {
	p.lastUpdate.Store(ts.UnixNano())
	msg, err := posesMessage(ts, poses)
	if err != nil {
		opsf("failed to encode pose update: %v", err)
		return
	}
	p.broadcast(msg)
}

func (p *Publisher) OnTrackLifecycle(id csi.TrackID, ev csi.LifecycleEvent, ts time.Time) {
	msg, err := lifecycleMessage(id, ev, ts)
	if err != nil {
		opsf("failed to encode lifecycle event: %v", err)
		return
	}
	diagf("track %d %s", id, ev)
	p.broadcast(msg)
}

func (p *Publisher) broadcast(msg *structpb.Struct) {
	p.published.Add(1)
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		select {
		case c.ch <- msg:
		default:
			p.dropped.Add(1)
			if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
				opsf("client %d is slow, %d updates dropped", c.id, n)
			}
		}
	}
}

func (p *Publisher) addClient() (*client, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("too many clients (max %d)", p.config.MaxClients)
	}
	p.nextID++
	c := &client{id: p.nextID, ch: make(chan *structpb.Struct, p.config.ClientBuffer)}
	p.clients[c.id] = c
	diagf("client %d connected (total: %d)", c.id, len(p.clients))
	return c, nil
}

func (p *Publisher) removeClient(c *client) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	delete(p.clients, c.id)
	diagf("client %d disconnected (remaining: %d, dropped: %d)", c.id, len(p.clients), c.dropped.Load())
}

// LastUpdateTime returns the timestamp of the newest pose update, or the
// zero time if none has been published.
func (p *Publisher) LastUpdateTime() time.Time {
	ns := p.lastUpdate.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Clients   int    `json:"clients"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.clientsMu.RLock()
	n := len(p.clients)
	p.clientsMu.RUnlock()
	return PublisherStats{Published: p.published.Load(), Dropped: p.dropped.Load(), Clients: n}
}

// Register installs the PoseStream service on s.
func (p *Publisher) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&ServiceDesc, p)
}

// Start listens on the configured address and serves the PoseStream
// service until Stop.
func (p *Publisher) Start() error {
	if p.server != nil {
		return fmt.Errorf("publisher already running")
	}
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the PoseStream service on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if p.server != nil {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	p.Register(p.server)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		diagf("gRPC pose stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil {
			opsf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	if p.server == nil {
		return
	}
	// Streams only end when their clients go away, so GracefulStop alone
	// could wait forever.
	done := make(chan struct{})
	go func() {
		p.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-p.clock.After(2 * time.Second):
		p.server.Stop()
	}
	p.wg.Wait()
	diagf("gRPC pose stream stopped")
}
