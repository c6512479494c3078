package electrum

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"
	json "github.com/goccy/go-json"
	"github.com/mit-dci/spvd/spv"
)

const headersSubscribe = "blockchain.headers.subscribe"

// HeaderStore is where the client puts the headers it downloads.
type HeaderStore interface {
	Height() int32
	CurrentChain() spv.ChainRef
	ReadHeader(height int32) (*wire.BlockHeader, bool)
	PutHeaders(start int32, hdrs []*wire.BlockHeader) error
}

// Config holds the server to connect to and where headers go.
type Config struct {
	// host:port, or a ws:// or wss:// URL if WebSocket is set
	Server    string
	WebSocket bool

	// SOCKS5 proxy, optional
	Proxy     string
	ProxyUser string
	ProxyPass string

	DialTimeout time.Duration

	Headers HeaderStore

	// Headers at or below Checkpoint are only fetched by RequestChunk.
	Checkpoint int32
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// message is anything the server sends: a response if ID is set, a
// subscription notification if Method is.
type message struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`

	err error
}

// Client is a JSON-RPC connection to an ElectrumX server. It implements
// spv.Network.
type Client struct {
	nextID   uint64
	shutdown int32

	cfg Config
	t   transport

	mtx     sync.Mutex
	pending map[uint64]chan *message
	chunks  map[int32]struct{}

	// serializes header downloads
	hdrMtx sync.Mutex

	// addresses re-synced after a reorg, set by WatchAddresses
	watchMtx    sync.Mutex
	watchWallet TxStore
	watchAddrs  []string

	tips chan *tipNotification
	quit chan struct{}
	wg   sync.WaitGroup
}

var _ spv.Network = (*Client)(nil)

// Dial connects to the server in cfg.
func Dial(cfg *Config) (*Client, error) {
	c := *cfg
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	t, err := dialTransport(&c)
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to %s", c.Server)
	return newClient(t, &c), nil
}

// NewClient runs the protocol over an established connection, with one
// JSON message per line.
func NewClient(con net.Conn, cfg *Config) *Client {
	return newClient(newLineTransport(con), cfg)
}

func newClient(t transport, cfg *Config) *Client {
	c := &Client{
		cfg:     *cfg,
		t:       t,
		pending: make(map[uint64]chan *message),
		chunks:  make(map[int32]struct{}),
		tips:    make(chan *tipNotification, 16),
		quit:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readHandler()
	go c.tipHandler()
	return c
}

// Close disconnects and fails every outstanding call with
// ErrClientShutdown.
func (c *Client) Close() {
	if !atomic.CompareAndSwapInt32(&c.shutdown, 0, 1) {
		return
	}
	close(c.quit)
	c.t.Close()
	c.failPending(ErrClientShutdown)
	c.wg.Wait()
	log.Infof("Disconnected from %s", c.cfg.Server)
}

func (c *Client) closed() bool {
	return atomic.LoadInt32(&c.shutdown) != 0
}

func (c *Client) failPending(err error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for id, ch := range c.pending {
		ch <- &message{err: err}
		delete(c.pending, id)
	}
}

// readHandler reads everything the server sends and routes it.
func (c *Client) readHandler() {
	defer c.wg.Done()
	for {
		b, err := c.t.ReadMessage()
		if err != nil {
			if !c.closed() {
				log.Errorf("read from %s: %v", c.cfg.Server, err)
				c.failPending(err)
				go c.Close()
			}
			return
		}
		if len(b) == 0 {
			continue
		}

		msg := new(message)
		if err := json.Unmarshal(b, msg); err != nil {
			log.Warnf("undecodable message from server: %v", err)
			continue
		}

		if msg.ID == nil {
			c.handleNotification(msg)
			continue
		}
		c.mtx.Lock()
		ch, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.mtx.Unlock()
		if !ok {
			log.Warnf("response for unknown request %d", *msg.ID)
			continue
		}
		ch <- msg
	}
}

func (c *Client) handleNotification(msg *message) {
	if msg.Method != headersSubscribe {
		log.Debugf("ignoring notification %s", msg.Method)
		return
	}
	var tips []tipNotification
	if err := json.Unmarshal(msg.Params, &tips); err != nil || len(tips) == 0 {
		log.Warnf("bad header notification: %s", msg.Params)
		return
	}
	tip := tips[len(tips)-1]
	// never block the reader; a later tip covers a dropped one
	select {
	case c.tips <- &tip:
	default:
		log.Warnf("dropping tip %d, still catching up", tip.Height)
	}
}

// Call sends a request and waits for its result.
func (c *Client) Call(method string, params ...interface{}) (json.RawMessage, error) {
	if c.closed() {
		return nil, ErrClientShutdown
	}
	if params == nil {
		params = []interface{}{}
	}

	id := atomic.AddUint64(&c.nextID, 1)
	b, err := json.Marshal(&request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan *message, 1)
	c.mtx.Lock()
	c.pending[id] = ch
	c.mtx.Unlock()

	if err := c.t.WriteMessage(b); err != nil {
		c.mtx.Lock()
		delete(c.pending, id)
		c.mtx.Unlock()
		return nil, err
	}
	log.Tracef("sent %s", b)

	var msg *message
	select {
	case msg = <-ch:
	case <-c.quit:
		return nil, ErrClientShutdown
	}
	if msg.err != nil {
		return nil, msg.err
	}
	if len(msg.Error) > 0 && string(msg.Error) != "null" {
		return nil, decodeRPCError(msg.Error)
	}
	return msg.Result, nil
}

// decodeRPCError accepts both the object and the plain string forms servers
// use.
func decodeRPCError(raw json.RawMessage) error {
	rerr := new(RPCError)
	if err := json.Unmarshal(raw, rerr); err == nil {
		return rerr
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &RPCError{Message: s}
	}
	return &RPCError{Message: string(raw)}
}
