package mqtt

import (
	"fmt"
	"strings"
	"time"
)

// BrokerURL builds the paho broker address. host may already carry a
// scheme and port ("mqtt://broker:1884"), in which case port is only used
// when the host has none.
func BrokerURL(host string, port int) string {
	scheme := "tcp"
	if i := strings.Index(host, "://"); i >= 0 {
		switch s := host[:i]; s {
		case "mqtt", "tcp":
		case "mqtts", "ssl", "tls":
			scheme = "ssl"
		default:
			scheme = s
		}
		host = host[i+3:]
	}
	host = strings.TrimSuffix(host, "/")
	if strings.Contains(host, ":") {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	if port == 0 {
		port = 1883
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

func keepalive(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
