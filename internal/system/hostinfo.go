package system

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// HostInfo reports diagnostics of the machine the bridge runs on
type HostInfo struct {
	procRoot string
	boot     time.Time
	iface    string
	bssid    func(iface string) string
}

// NewHostInfo creates a host info source. iface names the wireless interface;
// empty selects the first one listed in /proc/net/wireless.
func NewHostInfo(iface string) *HostInfo {
	return &HostInfo{
		procRoot: "/proc",
		boot:     time.Now(),
		iface:    iface,
		bssid:    iwBSSID,
	}
}

// BootTime returns when the bridge started
func (h *HostInfo) BootTime() time.Time {
	return h.boot
}

// Uptime returns the time since start
func (h *HostInfo) Uptime() time.Duration {
	return time.Since(h.boot)
}

// FreeMemoryPercent returns MemAvailable as a percentage of MemTotal
func (h *HostInfo) FreeMemoryPercent() float64 {
	data, err := os.ReadFile(filepath.Join(h.procRoot, "meminfo"))
	if err != nil {
		return 0
	}

	var total, avail float64
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			avail = v
		}
	}
	if total == 0 {
		return 0
	}
	return avail / total * 100
}

// RSSI returns the signal level in dBm of the wireless interface, 0 when wired
func (h *HostInfo) RSSI() int {
	_, level := h.wireless()
	return level
}

// BSSID returns the access point address the wireless interface is associated with
func (h *HostInfo) BSSID() string {
	iface, _ := h.wireless()
	if iface == "" || h.bssid == nil {
		return ""
	}
	return h.bssid(iface)
}

// wireless parses /proc/net/wireless:
//
//	Inter-| sta-|   Quality        |   Discarded packets
//	 face | tus | link level noise |  nwid  crypt   frag
//	wlan0: 0000   54.  -56.  -256        0      0      0
func (h *HostInfo) wireless() (string, int) {
	data, err := os.ReadFile(filepath.Join(h.procRoot, "net", "wireless"))
	if err != nil {
		return "", 0
	}

	lines := strings.Split(string(data), "\n")
	for _, line := range lines[min(2, len(lines)):] {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		name := strings.TrimSuffix(fields[0], ":")
		if h.iface != "" && name != h.iface {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			return name, 0
		}
		return name, int(level)
	}
	return "", 0
}

// iwBSSID asks iw for the associated access point
func iwBSSID(iface string) string {
	out, err := exec.Command("iw", "dev", iface, "link").Output()
	if err != nil {
		return ""
	}
	return parseIWLink(out)
}

// parseIWLink extracts the address from "Connected to aa:bb:cc:dd:ee:ff (on wlan0)"
func parseIWLink(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == "Connected" && fields[1] == "to" {
			return strings.ToUpper(fields[2])
		}
	}
	return ""
}

// MACAddress returns the hardware address of the first up, non-loopback
// interface without separators, used as the unit's unique id
func MACAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagUp == 0 || len(ifc.HardwareAddr) == 0 {
			continue
		}
		return strings.ToUpper(strings.ReplaceAll(ifc.HardwareAddr.String(), ":", ""))
	}
	return ""
}
