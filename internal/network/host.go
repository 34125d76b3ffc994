package network

import (
	"context"
	"net"
	"time"

	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
)

// HostSSID labels credentials for a link the operating system manages
const HostSSID = "host"

// HostStation treats the host's own network as the station link: it is
// associated while a non-loopback IPv4 interface is up.
type HostStation struct{}

// Associate implements Station; the host manages association itself
func (HostStation) Associate(ctx context.Context, creds Credentials) error {
	return ctx.Err()
}

// Associated implements Station
func (HostStation) Associated() bool {
	return len(LocalIPs()) > 0
}

// LocalIP implements Station
func (HostStation) LocalIP() string {
	if ips := LocalIPs(); len(ips) > 0 {
		return ips[0]
	}
	return ""
}

// LocalIPs returns all local IPv4 addresses on interfaces that are up
func LocalIPs() []string {
	var ips []string

	interfaces, err := net.Interfaces()
	if err != nil {
		return ips
	}

	for _, iface := range interfaces {
		// Skip down or loopback interfaces
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			ips = append(ips, ip.String())
		}
	}

	return ips
}

// LogAccessPoint records access point requests; the host has no radio to start one on
type LogAccessPoint struct {
	Log *logger.Logger
}

// Start implements AccessPoint
func (a LogAccessPoint) Start(ssid, psk string) error {
	if a.Log != nil {
		a.Log.Warnw("access point requested but not available on this host", "ssid", ssid)
	}
	return nil
}

// LogIndicator writes indicator changes to the log
type LogIndicator struct {
	Log *logger.Logger
}

// Blink implements Indicator
func (i LogIndicator) Blink(period time.Duration) {
	if i.Log != nil {
		i.Log.Debugw("indicator", "period", period)
	}
}
