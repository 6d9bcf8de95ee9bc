package relay

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"go-ripple/debug"
)

// ServiceType is the mDNS service a relay announces on the LAN
const ServiceType = "_goripple._tcp"

const discoveryDomain = "local."

// Announce registers the relay on the local network until ctx is done
func Announce(ctx context.Context, port int) error {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("go-ripple-%s", host),
		ServiceType,
		discoveryDomain,
		port,
		[]string{"path=/ws", "v=1"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	defer server.Shutdown()

	debug.Log("relay", "announced %s on port %d", ServiceType, port)
	<-ctx.Done()
	return nil
}

// Discover browses for a relay for up to timeout and returns the websocket
// URL of the first one found
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("init mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, discoveryDomain, entries); err != nil {
		return "", fmt.Errorf("browse mdns: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNoRelay
			}
			if url, ok := entryURL(entry); ok {
				debug.Log("relay", "discovered %s at %s", entry.Instance, url)
				return url, nil
			}
		case <-ctx.Done():
			return "", ErrNoRelay
		}
	}
}

// entryURL builds the websocket URL for a resolved service entry,
// preferring IPv4
func entryURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	return "ws://" + net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)) + "/ws", true
}
