package main

import (
	"fmt"
	"net"
)

// routeAddr is only used to pick the outbound route; nothing is sent.
const routeAddr = "192.0.2.1:5060"

// detectHostIP returns the IPv4 address SIP and SDP should advertise: the
// source address of the default route, or else the first usable interface
// address.
func detectHostIP() (string, error) {
	if conn, err := net.Dial("udp4", routeAddr); err == nil {
		local, _ := conn.LocalAddr().(*net.UDPAddr)
		conn.Close()
		if local != nil && usableIPv4(local.IP) {
			return local.IP.To4().String(), nil
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interface addresses: %w", err)
	}
	return firstUsableIPv4(addrs)
}

func firstUsableIPv4(addrs []net.Addr) (string, error) {
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if usableIPv4(ipnet.IP) {
			return ipnet.IP.To4().String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}

func usableIPv4(ip net.IP) bool {
	ip4 := ip.To4()
	return ip4 != nil && !ip4.IsLoopback() && !ip4.IsUnspecified() && !ip4.IsLinkLocalUnicast()
}
