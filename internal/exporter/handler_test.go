package exporter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brouteexp/broute-exporter/internal/core"
	"github.com/brouteexp/broute-exporter/internal/echonet"
	"github.com/brouteexp/broute-exporter/internal/lineport"
	"github.com/brouteexp/broute-exporter/internal/modem"
	"github.com/brouteexp/broute-exporter/internal/session"
)

const panDescriptorBlock = "EPANDESC\r\n" +
	"  Channel:21\r\n" +
	"  Channel Page:09\r\n" +
	"  Pan ID:8888\r\n" +
	"  Addr:12345678ABCDEF01\r\n" +
	"  LQI:E1\r\n" +
	"  Side:0\r\n" +
	"  PairID:AABBCCDD\r\n"

func newTestHandler() (*Handler, *lineport.Mock) {
	port := lineport.NewMock()
	drv := modem.NewDriver(port, nil)
	mgr := session.NewManager(drv, nil)
	measures := []core.Measure{
		{Name: "instantaneous_power_watts", Help: "watts", Epc: 0xE7, Layout: []echonet.FieldType{echonet.I32}},
	}
	c := core.New(mgr, nil, 0xFFFFFFFF, 6, echonet.Eoj{ClassGroup: 0x02, ClassCode: 0x88, Instance: 0x01}, measures, 5000, nil)
	return NewHandler(c, measures, nil), port
}

func feedHappyPathScrape(port *lineport.Mock) {
	port.FeedString("OK\r\n")
	port.FeedString("EVENT 20 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString(panDescriptorBlock)
	port.FeedString("EVENT 22 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString("FE80:0000:0000:0000:021D:1290:1234:5678\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("EVENT 25 FE80:0000:0000:0000:021D:1290:1234:5678 0\r\n")
	port.FeedString("OK\r\n")
	getRes := []byte{0x10, 0x81, 0x00, 0x01, 0x02, 0x88, 0x01, 0x05, 0xFF, 0x01, 0x63, 0x01, 0xE7, 0x04, 0x00, 0x00, 0x01, 0x2C}
	port.FeedString("ERXUDP FE80:0000:0000:0000:021D:1290:1234:5678 FE80:0000:0000:0000:021D:1290:1234:5678 0E1A 0E1A 001D129012345678 0 0 0012 ")
	port.Feed(getRes)
	port.FeedString("\r\n")
}

func TestServeHTTPHappyPath(t *testing.T) {
	h, port := newTestHandler()
	feedHappyPathScrape(port)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "broute_instantaneous_power_watts 300") {
		t.Fatalf("body missing expected gauge value: %s", body)
	}
}

func TestServeHTTPRejectsNonGet(t *testing.T) {
	h, _ := newTestHandler()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/metrics", nil)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestServeHTTPMapsDisconnectTo504(t *testing.T) {
	h, _ := newTestHandler() // no RX bytes fed at all: SKSCAN write succeeds, then the
	// driver blocks reading its result and the mock reports disconnected once
	// its buffer is exhausted, which the core/session surface as a transport
	// error mapped to 504.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504; body: %s", rec.Code, rec.Body.String())
	}
}
