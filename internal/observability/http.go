package observability

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Client identifies the UI connection behind a request.
type Client struct {
	DeviceID  string
	RequestID string
	IP        string
}

// ClientFromRequest extracts device, request id and caller IP. A request id
// is generated when the UI did not send one.
func ClientFromRequest(r *http.Request) Client {
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return Client{
		DeviceID:  r.Header.Get("X-Device-Id"),
		RequestID: requestID,
		IP:        remoteIP(r),
	}
}

func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
