package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	req.Header.Set("X-Device-Id", "phone-1")
	req.Header.Set("X-Request-Id", "req-1")

	c := ClientFromRequest(req)
	assert.Equal(t, Client{DeviceID: "phone-1", RequestID: "req-1", IP: "10.0.0.2"}, c)

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	req.Header.Del("X-Request-Id")
	c = ClientFromRequest(req)
	assert.Equal(t, "1.2.3.4", c.IP)
	assert.NotEmpty(t, c.RequestID)
}
