package localserver

import (
	"fmt"
	"net"
)

// allocatePort finds a free TCP port on localhost within [min, max].
// The listener bind doubles as the availability check.
func allocatePort(min, max int) (int, error) {
	for port := min; port <= max; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("%w (%d-%d)", ErrPortsExhausted, min, max)
}
