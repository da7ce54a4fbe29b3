// Package stunutil asks STUN servers for this host's mapped address. It is
// the client side of internal/stun and backs the "stun probe" command.
package stunutil

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

// Result is one server's answer.
type Result struct {
	Server   string
	Mapped   netip.AddrPort
	Software string
	RTT      time.Duration
}

// Report aggregates a probe across servers.
type Report struct {
	Results []Result
	NATType string
	Errors  map[string]error
}

// Probe sends one Binding Request to each server in turn.
// The mapped address is for the probe socket and may not match other sockets.
func Probe(ctx context.Context, servers []string, timeout time.Duration) (Report, error) {
	report := Report{NATType: NATTypeUnknown, Errors: map[string]error{}}
	if len(servers) == 0 {
		return report, errors.New("no STUN servers provided")
	}

	var lastErr error
	for _, server := range servers {
		res, err := probeServer(ctx, server, timeout)
		if err != nil {
			report.Errors[server] = err
			lastErr = err
			continue
		}
		report.Results = append(report.Results, res)
	}

	if len(report.Results) == 0 {
		return report, fmt.Errorf("STUN probe failed: %w", lastErr)
	}

	mapped := make([]string, 0, len(report.Results))
	for _, r := range report.Results {
		mapped = append(mapped, r.Mapped.String())
	}
	report.NATType = Classify(mapped)
	return report, nil
}

// Classify infers NAT type by comparing mapped addresses from multiple servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	first := addrs[0]
	for _, addr := range addrs[1:] {
		if addr != first {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (Result, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return Result{}, errors.New("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return Result{}, err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan Result, 1)
	fail := make(chan error, 1)
	start := time.Now()

	go func() {
		err := client.Do(msg, func(ev stun.Event) {
			if ev.Error != nil {
				fail <- ev.Error
				return
			}
			var xor stun.XORMappedAddress
			if err := xor.GetFrom(ev.Message); err != nil {
				fail <- err
				return
			}
			ip, ok := netip.AddrFromSlice(xor.IP)
			if !ok {
				fail <- fmt.Errorf("bad mapped address %v", xor.IP)
				return
			}
			res := Result{
				Server: server,
				Mapped: netip.AddrPortFrom(ip.Unmap(), uint16(xor.Port)),
				RTT:    time.Since(start),
			}
			var sw stun.Software
			if sw.GetFrom(ev.Message) == nil {
				res.Software = sw.String()
			}
			result <- res
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case res := <-result:
		return res, nil
	case err := <-fail:
		return Result{}, err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
