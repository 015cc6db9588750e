package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	DefaultHost        = "google.com"
	DefaultPingTimeout = 2 * time.Second
)

// Pinger performs one reachability probe. Any error means the probe failed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ICMPPinger sends a single ICMP echo over an unprivileged datagram socket.
type ICMPPinger struct {
	Host    string
	Timeout time.Duration
	Payload int
}

func (p ICMPPinger) Ping(ctx context.Context) error {
	host := strings.TrimSpace(p.Host)
	if host == "" {
		host = DefaultHost
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	size := p.Payload
	if size <= 0 {
		size = 32
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no ipv4 address", host)
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return fmt.Errorf("%w: %v", errICMPUnavailable, err)
	}
	defer conn.Close()

	id := os.Getpid() & 0xffff
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: id, Seq: 1, Data: make([]byte, size)},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	if _, err := conn.WriteTo(wb, &net.UDPAddr{IP: addrs[0]}); err != nil {
		return fmt.Errorf("send echo: %w", err)
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			return fmt.Errorf("await echo reply: %w", err)
		}
		reply, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), rb[:n])
		if err != nil {
			continue
		}
		if reply.Type == ipv4.ICMPTypeEchoReply {
			return nil
		}
	}
}

var errICMPUnavailable = errors.New("icmp socket unavailable")

// TCPPinger treats a successful TCP connect as reachability.
type TCPPinger struct {
	Address string
	Timeout time.Duration
}

func (p TCPPinger) Ping(ctx context.Context) error {
	addr := strings.TrimSpace(p.Address)
	if addr == "" {
		addr = net.JoinHostPort(DefaultHost, "443")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// DefaultPinger pings host over ICMP and falls back to a TCP connect on port
// 443 when the platform does not allow unprivileged ICMP sockets.
func DefaultPinger(host string, timeout time.Duration) Pinger {
	if strings.TrimSpace(host) == "" {
		host = DefaultHost
	}
	icmpPinger := ICMPPinger{Host: host, Timeout: timeout}
	tcpPinger := TCPPinger{Address: net.JoinHostPort(host, "443"), Timeout: timeout}
	return PingFunc(func(ctx context.Context) error {
		err := icmpPinger.Ping(ctx)
		if errors.Is(err, errICMPUnavailable) {
			return tcpPinger.Ping(ctx)
		}
		return err
	})
}
