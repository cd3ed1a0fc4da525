package netutil

import (
	"net"
	"net/url"
)

// GetLANIP returns the first non-loopback, non-CGNAT IPv4 address.
func GetLANIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ip := usableIPv4(addr); ip != nil {
				return ip.String()
			}
		}
	}
	return ""
}

func usableIPv4(addr net.Addr) net.IP {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	if ip == nil || ip.IsLoopback() || ip.To4() == nil {
		return nil
	}
	ip = ip.To4()
	if ip[0] == 100 && ip[1] >= 64 && ip[1] <= 127 {
		return nil
	}
	return ip
}

// IsLoopbackHost reports whether a bind host only accepts local connections.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// OriginAllowed reports whether a browser Origin header passes the allow
// list. "*" matches anything; an empty list admits loopback origins only.
func OriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	if len(allowed) > 0 {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return IsLoopbackHost(u.Hostname())
}
