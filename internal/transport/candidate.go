package transport

import "strings"

// AcceptCandidate reports whether an ICE candidate line should be used.
// Only UDP candidates are kept; empty end-of-candidates markers and TCP
// candidates are dropped.
func AcceptCandidate(line string) bool {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "a="))
	// candidate:<foundation> <component> <transport> <priority> <ip> <port> typ <type>
	if len(fields) < 3 || !strings.HasPrefix(fields[0], "candidate:") {
		return false
	}
	return strings.EqualFold(fields[2], "udp")
}
