package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

const (
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
	androidUA = "Mozilla/5.0 (Linux; Android 12; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Mobile Safari/537.36"
	windowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	botUA     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func testContext(headers map[string]string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest("POST", "/api/v1/payments/initiate", nil)
	req.RemoteAddr = "203.0.113.9:54321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.Request = req
	return c
}

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name       string
		ua         string
		deviceType string
		platform   string
	}{
		{"iphone", iphoneUA, "mobile", "ios"},
		{"android", androidUA, "mobile", "android"},
		{"windows desktop", windowsUA, "desktop", "windows"},
		{"crawler", botUA, "bot", "unknown"},
		{"empty", "", "unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseUserAgent(tt.ua)
			assert.Equal(t, tt.deviceType, info.DeviceType)
			assert.Equal(t, tt.platform, info.Platform)
		})
	}
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{"x-real-ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"forwarded skips private hops", map[string]string{"X-Forwarded-For": "10.0.0.4, 198.51.100.8"}, "198.51.100.8"},
		{"forwarded all private", map[string]string{"X-Forwarded-For": "10.0.0.4, 192.168.1.2"}, "10.0.0.4"},
		{"remote addr", nil, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetRealIP(testContext(tt.headers)))
		})
	}
}

func TestClientMetadata(t *testing.T) {
	c := testContext(map[string]string{"User-Agent": androidUA, "X-Real-IP": "198.51.100.7"})

	meta := ClientMetadata(c)

	assert.Equal(t, "198.51.100.7", meta.IPAddress)
	assert.Equal(t, androidUA, meta.UserAgent)
	assert.Equal(t, "mobile", meta.DeviceType)
	assert.Equal(t, "android", meta.Platform)
}

func TestClientMetadata_NoUserAgent(t *testing.T) {
	meta := ClientMetadata(testContext(nil))

	assert.Equal(t, "Unknown", meta.UserAgent)
	assert.Equal(t, "unknown", meta.DeviceType)
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(3)
	assert.NoError(t, err)
	assert.Len(t, a, 6)
	assert.Regexp(t, "^[0-9A-F]{6}$", a)
}
