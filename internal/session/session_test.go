package session

import (
	"net"
	"testing"

	"github.com/brouteexp/broute-exporter/internal/lineport"
	"github.com/brouteexp/broute-exporter/internal/modem"
)

func newTestManager() (*Manager, *lineport.Mock) {
	m := lineport.NewMock()
	drv := modem.NewDriver(m, nil)
	return NewManager(drv, nil), m
}

const panDescriptorBlock = "EPANDESC\r\n" +
	"  Channel:21\r\n" +
	"  Channel Page:09\r\n" +
	"  Pan ID:8888\r\n" +
	"  Addr:12345678ABCDEF01\r\n" +
	"  LQI:E1\r\n" +
	"  Side:0\r\n" +
	"  PairID:AABBCCDD\r\n"

func TestConnectScanSuccess(t *testing.T) {
	mgr, port := newTestManager()
	port.FeedString("OK\r\n") // SKSCAN
	port.FeedString("EVENT 20 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString(panDescriptorBlock)
	port.FeedString("EVENT 22 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString("FE80:0000:0000:0000:021D:1290:1234:5678\r\n") // SKLL64
	port.FeedString("OK\r\n")                                     // SKSREG S02
	port.FeedString("OK\r\n")                                     // SKSREG S03
	port.FeedString("OK\r\n")                                     // SKJOIN
	port.FeedString("EVENT 25 FE80:0000:0000:0000:021D:1290:1234:5678 0\r\n")

	if err := mgr.Connect(nil, 0xFFFFFFFF, 6); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if mgr.State() != Connected {
		t.Fatalf("state = %v, want Connected", mgr.State())
	}
	want := net.ParseIP("FE80::021D:1290:1234:5678")
	if !mgr.RemoteAddr().Equal(want) {
		t.Fatalf("remote addr = %v, want %v", mgr.RemoteAddr(), want)
	}
}

func TestConnectScanFailure(t *testing.T) {
	mgr, port := newTestManager()
	port.FeedString("OK\r\n") // SKSCAN
	port.FeedString("EVENT 22 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")

	err := mgr.Connect(nil, 0xFFFFFFFF, 6)
	if err != ErrCoordinatorNotFound {
		t.Fatalf("err = %v, want ErrCoordinatorNotFound", err)
	}
}

func TestConnectJoinFailure(t *testing.T) {
	mgr, port := newTestManager()
	port.FeedString("OK\r\n")
	port.FeedString("EVENT 20 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString(panDescriptorBlock)
	port.FeedString("EVENT 22 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString("FE80:0000:0000:0000:021D:1290:1234:5678\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("OK\r\n") // SKJOIN
	port.FeedString("EVENT 24 FE80:0000:0000:0000:021D:1290:1234:5678 0\r\n")

	err := mgr.Connect(nil, 0xFFFFFFFF, 6)
	if err != ErrConnectionFailed {
		t.Fatalf("err = %v, want ErrConnectionFailed", err)
	}
}

func TestRecvFiltersToPeerAndPort(t *testing.T) {
	mgr, port := newTestManager()
	port.FeedString("OK\r\n")
	port.FeedString("EVENT 20 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString(panDescriptorBlock)
	port.FeedString("EVENT 22 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString("FE80:0000:0000:0000:021D:1290:1234:5678\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("EVENT 25 FE80:0000:0000:0000:021D:1290:1234:5678 0\r\n")
	if err := mgr.Connect(nil, 0xFFFFFFFF, 6); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Wrong peer: discarded.
	port.FeedString("ERXUDP FE80:0000:0000:0000:0000:0000:0000:0001 FE80:0000:0000:0000:021D:1290:1234:5678 0E1A 0E1A 0000000000000099 0 0 0002 ")
	port.Feed([]byte{0xAA, 0xBB})
	port.FeedString("\r\n")
	// Correct peer: matched.
	port.FeedString("ERXUDP FE80:0000:0000:0000:021D:1290:1234:5678 FE80:0000:0000:0000:021D:1290:1234:5678 0E1A 0E1A 001D129012345678 0 0 0003 ")
	port.Feed([]byte{0x01, 0x02, 0x03})
	port.FeedString("\r\n")

	got, err := mgr.Recv(0)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if len(got) != 3 || got[0] != 0x01 || got[1] != 0x02 || got[2] != 0x03 {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestSendRequiresConnected(t *testing.T) {
	mgr, _ := newTestManager()
	if err := mgr.Send([]byte("x")); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestCloseIsIdempotentAndBlocksFurtherOps(t *testing.T) {
	mgr, port := newTestManager()
	port.FeedString("OK\r\n")
	port.FeedString("EVENT 20 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString(panDescriptorBlock)
	port.FeedString("EVENT 22 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	port.FeedString("FE80:0000:0000:0000:021D:1290:1234:5678\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("OK\r\n")
	port.FeedString("EVENT 25 FE80:0000:0000:0000:021D:1290:1234:5678 0\r\n")
	if err := mgr.Connect(nil, 0xFFFFFFFF, 6); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	port.FeedString("OK\r\n") // SKTERM
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := mgr.Send([]byte("x")); err != ErrNotConnected {
		t.Fatalf("Send after Close: err = %v, want ErrNotConnected", err)
	}
}
