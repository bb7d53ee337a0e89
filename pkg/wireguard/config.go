package wireguard

import "fmt"

// Tunnel addressing. The server always owns 10.8.0.1 and the single client
// 10.8.0.2; this is a one-user VPN, not a fleet.
const (
	ServerAddress = "10.8.0.1/24"
	ClientAddress = "10.8.0.2/32"
	ClientDNS     = "1.1.1.1"

	// DefaultListenPort is the standard WireGuard UDP port.
	DefaultListenPort = 51820
)

// RenderServerConfig produces the wg0.conf for the server host. The output
// is deterministic for a given input set. The iptables rules NAT the tunnel
// subnet out of the host's primary interface.
func RenderServerConfig(serverPrivateKey, clientPublicKey string, listenPort int) string {
	return fmt.Sprintf(`[Interface]
Address = %s
ListenPort = %d
PrivateKey = %s

# NAT masquerading rules
PostUp = iptables -t nat -A POSTROUTING -o eth0 -j MASQUERADE
PostUp = iptables -A FORWARD -i wg0 -j ACCEPT
PostUp = iptables -A FORWARD -o wg0 -j ACCEPT
PostDown = iptables -t nat -D POSTROUTING -o eth0 -j MASQUERADE
PostDown = iptables -D FORWARD -i wg0 -j ACCEPT
PostDown = iptables -D FORWARD -o wg0 -j ACCEPT

[Peer]
PublicKey = %s
AllowedIPs = %s
`, ServerAddress, listenPort, serverPrivateKey, clientPublicKey, ClientAddress)
}

// RenderClientConfig produces the local client tunnel configuration. All
// traffic is routed through the tunnel; the keepalive keeps NAT mappings
// alive for roaming clients.
func RenderClientConfig(clientPrivateKey, serverPublicKey, endpointIP string, listenPort int) string {
	return fmt.Sprintf(`[Interface]
PrivateKey = %s
Address = %s
DNS = %s

[Peer]
PublicKey = %s
Endpoint = %s:%d
AllowedIPs = 0.0.0.0/0
PersistentKeepalive = 25
`, clientPrivateKey, ClientAddress, ClientDNS, serverPublicKey, endpointIP, listenPort)
}
