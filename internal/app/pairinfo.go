package app

import (
	"fmt"
	"net"

	"github.com/skip2/go-qrcode"

	"aperture/internal/config"
)

// PairingURL returns the address devices use to reach this server: the
// configured public URL, or the listen port on the primary outbound IPv4.
func PairingURL(cfg config.ServerConfig) (string, error) {
	if cfg.PublicURL != "" {
		return cfg.PublicURL, nil
	}

	host, port, err := net.SplitHostPort(cfg.Listen)
	if err != nil {
		return "", fmt.Errorf("parsing listen address %q: %w", cfg.Listen, err)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		outbound, err := OutboundIP()
		if err != nil {
			return "", err
		}
		host = outbound.String()
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// OutboundIP returns the local address of the default route. No packet is sent.
func OutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("finding outbound address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP, nil
}

// PairingQR renders url as a QR code for a terminal.
func PairingQR(url string) (string, error) {
	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encoding QR code: %w", err)
	}
	return q.ToSmallString(false), nil
}
