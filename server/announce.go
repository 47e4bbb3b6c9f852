package server

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

// mDNS service the relay is advertised under
const (
	ServiceType   = "_pdl-datastream._tcp"
	ServiceDomain = "local."
)

// Relay is a print relay found on the local network
type Relay struct {
	Instance  string            `json:"instance"`
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Addresses []string          `json:"addresses"`
	Text      map[string]string `json:"text,omitempty"`
}

// URL returns the HTTP endpoint of the relay
func (r Relay) URL() string {
	host := r.Host
	if len(r.Addresses) > 0 {
		host = r.Addresses[0]
	}
	host = strings.TrimSuffix(host, ".")
	return (&url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(r.Port))}).String()
}

// Announce advertises the relay listening on port. Call the returned
// function to withdraw the announcement.
func Announce(instance string, port int, logger zerolog.Logger) (func(), error) {
	txt := []string{"txtvers=1", "transport=http", "product=(ticketprint)"}
	srv, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to announce relay: %w", err)
	}
	logger.Info().Str("instance", instance).Int("port", port).Str("service", ServiceType).Msg("relay announced")
	return srv.Shutdown, nil
}

// Discover browses for relays until ctx is done
func Discover(ctx context.Context) ([]Relay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for relays: %w", err)
	}

	seen := make(map[string]bool)
	var relays []Relay
	for {
		select {
		case <-ctx.Done():
			return relays, nil
		case e, ok := <-entries:
			if !ok {
				return relays, nil
			}
			if e == nil || seen[e.Instance] {
				continue
			}
			seen[e.Instance] = true
			relays = append(relays, relayFromEntry(e))
		}
	}
}

func relayFromEntry(e *zeroconf.ServiceEntry) Relay {
	r := Relay{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		Text:     make(map[string]string, len(e.Text)),
	}
	for _, ip := range e.AddrIPv4 {
		r.Addresses = append(r.Addresses, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		r.Addresses = append(r.Addresses, ip.String())
	}
	for _, kv := range e.Text {
		k, v, _ := strings.Cut(kv, "=")
		r.Text[k] = v
	}
	return r
}
