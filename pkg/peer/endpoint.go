package peer

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is a network address of a broker.
type Endpoint struct {
	Host string `json:"host" codec:"host"`
	Port uint16 `json:"port" codec:"port"`
}

// ParseEndpoint parses an endpoint in the form 'host:port'.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint: %s: %w", s, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint: %s: missing host", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint: %s: invalid port", s)
	}
	return Endpoint{
		Host: host,
		Port: uint16(port),
	}, nil
}

// Compare orders endpoints by host then port.
func (e Endpoint) Compare(o Endpoint) int {
	if c := strings.Compare(e.Host, o.Host); c != 0 {
		return c
	}
	switch {
	case e.Port < o.Port:
		return -1
	case e.Port > o.Port:
		return 1
	default:
		return 0
	}
}

// IsZero returns whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.FormatUint(uint64(e.Port), 10))
}
