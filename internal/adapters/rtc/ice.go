package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ParseICEServers groups STUN and TURN urls into pion ICE servers. TURN urls
// share one username and credential.
func ParseICEServers(urls []string, username, credential string) ([]webrtc.ICEServer, error) {
	var stun, turn []string
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		switch {
		case u == "":
			continue
		case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"):
			stun = append(stun, u)
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			turn = append(turn, u)
		default:
			return nil, fmt.Errorf("unsupported ice url scheme: %q", u)
		}
	}

	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		username, credential = strings.TrimSpace(username), strings.TrimSpace(credential)
		if username == "" || credential == "" {
			return nil, errors.New("turn urls require username and credential")
		}
		servers = append(servers, webrtc.ICEServer{URLs: turn, Username: username, Credential: credential})
	}
	return servers, nil
}
