package ddp

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ktnrg45/goremoteplay/internal/rplog"
)

// trackedDevice mirrors the per-ip state DDPProtocol keeps in
// original_source/pyremoteplay/protocol.py.
type trackedDevice struct {
	addr           string
	status         DeviceStatus
	discovered     bool
	pollCount      int
	pollsDisabled  bool
	standbyStart   time.Time
	lastWasStandby bool
}

// Callback is invoked whenever a tracked device's status changes.
type Callback func(addr string, status DeviceStatus)

// Tracker polls a set of known device addresses and broadcasts SRCH
// requests, tracking poll counts and standby backoff per spec.md section 4.1.
type Tracker struct {
	mu      sync.Mutex
	devices map[string]*trackedDevice
	conn    *net.UDPConn
	log     rplog.Logger

	PollInterval time.Duration
	MaxPolls     int
	StandbyDelay time.Duration

	callback Callback
}

// NewTracker constructs a Tracker bound to an ephemeral UDP socket.
func NewTracker(cb Callback) (*Tracker, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	return &Tracker{
		devices:      make(map[string]*trackedDevice),
		conn:         conn,
		log:          rplog.New("ddp.tracker"),
		PollInterval: DefaultPollInterval,
		MaxPolls:     DefaultMaxPolls,
		StandbyDelay: DefaultStandbyDelay,
		callback:     cb,
	}, nil
}

// Add registers a device address for directed polling.
func (t *Tracker) Add(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.devices[addr]; !ok {
		t.devices[addr] = &trackedDevice{addr: addr}
	}
}

// Close releases the tracker's socket.
func (t *Tracker) Close() error { return t.conn.Close() }

// Run polls on PollInterval until ctx is cancelled, matching
// DDPProtocol's cooperative-cancellation run loop.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.PollInterval)
	defer ticker.Stop()

	go t.receiveLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Tracker) tick() {
	broadcast := BuildSearchMessage()
	for _, port := range portFor {
		_, _ = t.conn.WriteToUDP(broadcast, &net.UDPAddr{IP: net.IPv4bcast, Port: port})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.devices {
		if d.pollsDisabled && time.Since(d.standbyStart) > t.StandbyDelay {
			d.pollsDisabled = false
		}
		if d.pollsDisabled {
			continue
		}
		d.pollCount++
		if d.pollCount > t.MaxPolls {
			d.status = DeviceStatus{}
			if t.callback != nil {
				t.callback(d.addr, d.status)
			}
			continue
		}
		if !d.discovered {
			for _, port := range portFor {
				addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(d.addr, strconv.Itoa(port)))
				if err == nil {
					_, _ = t.conn.WriteToUDP(BuildSearchMessage(), addr)
				}
			}
		}
	}
}

func (t *Tracker) receiveLoop(ctx context.Context) {
	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return
		}
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		code, reason, headers, err := ParseResponse(buf[:n])
		if err != nil {
			continue
		}
		status, err := DecodeDeviceStatus(code, reason, headers)
		if err != nil {
			t.log.Warn("discard malformed device status", "addr", src.String())
			continue
		}
		t.handleResponse(src.IP.String(), status)
	}
}

func (t *Tracker) handleResponse(addr string, status DeviceStatus) {
	t.mu.Lock()
	d, ok := t.devices[addr]
	if !ok {
		d = &trackedDevice{addr: addr}
		t.devices[addr] = d
	}
	wasStandby := d.lastWasStandby
	d.discovered = true
	d.pollCount = 0
	d.status = status
	d.lastWasStandby = status.Code == StatusStandby
	if !wasStandby && d.lastWasStandby {
		d.standbyStart = time.Now()
		d.pollsDisabled = true
	}
	t.mu.Unlock()

	if t.callback != nil {
		t.callback(addr, status)
	}
}

