package pgpool

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanhughes/pgo/internal/typeregistry"
	"github.com/bryanhughes/pgo/internal/wire"
)

// fakeServer is a minimal PG backend that accepts the startup message,
// replies AuthenticationOk + ReadyForQuery, and otherwise reads and discards
// messages until Terminate. Enough to drive Pool's dial path
// without a real PostgreSQL instance.
type fakeServer struct {
	ln     net.Listener
	accept int32
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeServer{ln: ln}
	go fs.serve(t)
	return fs
}

func (fs *fakeServer) serve(t *testing.T) {
	for {
		conn, err := fs.ln.Accept()
		if err != nil {
			return
		}
		atomic.AddInt32(&fs.accept, 1)
		go fs.handle(conn)
	}
}

func (fs *fakeServer) handle(conn net.Conn) {
	defer func() { recover() }()
	var lenBuf [4]byte
	if _, err := readFullFS(conn, lenBuf[:]); err != nil {
		return
	}
	n := int(beUint32(lenBuf[:])) - 4
	body := make([]byte, n)
	readFullFS(conn, body)

	wire.WriteMessage(conn, wire.TagAuthentication, []byte{0, 0, 0, 0})
	wire.WriteMessage(conn, wire.TagReadyForQuery, []byte{'I'})

	for {
		tag, _, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		if tag == wire.TagTerminate {
			conn.Close()
			return
		}
	}
}

func (fs *fakeServer) addr() (string, int) {
	tcpAddr := fs.ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

func (fs *fakeServer) close() { fs.ln.Close() }

func readFullFS(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func testOptions(host string, port int) Options {
	return Options{
		Name: "testpool", Host: host, Port: port, User: "u", Database: "d",
		MaxConns: 2, MinConns: 0, AcquireTimeout: time.Second, DialTimeout: time.Second,
	}
}

func TestCheckoutCheckinReusesConnection(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()
	host, port := fs.addr()

	p := New(testOptions(host, port), typeregistry.New())
	defer p.Close()

	ref, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	ref.Checkin()

	if got := atomic.LoadInt32(&fs.accept); got != 1 {
		t.Fatalf("expected exactly 1 dial, got %d", got)
	}

	ref2, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("second Checkout: %v", err)
	}
	ref2.Checkin()

	if got := atomic.LoadInt32(&fs.accept); got != 1 {
		t.Fatalf("expected the idle connection to be reused, got %d dials", got)
	}
}

func TestCheckinIsIdempotent(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()
	host, port := fs.addr()

	p := New(testOptions(host, port), typeregistry.New())
	defer p.Close()

	ref, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	ref.Checkin()
	ref.Checkin() // must not panic or double-count idle

	if stats := p.Stats(); stats.Idle != 1 || stats.Total != 1 {
		t.Fatalf("Stats = %+v, want Idle=1 Total=1", stats)
	}
}

func TestCheckoutStrictFIFOOrdering(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()
	host, port := fs.addr()

	opts := testOptions(host, port)
	opts.MaxConns = 1
	opts.AcquireTimeout = 5 * time.Second
	p := New(opts, typeregistry.New())
	defer p.Close()

	held, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("initial Checkout: %v", err)
	}

	const n = 5
	order := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Stagger enqueue order deterministically.
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			ref, err := p.Checkout(context.Background())
			if err != nil {
				t.Errorf("waiter %d: Checkout: %v", i, err)
				return
			}
			order <- i
			ref.Checkin()
		}(i)
	}

	// Give every waiter time to enqueue before releasing the held conn.
	time.Sleep(100 * time.Millisecond)
	held.Checkin()
	wg.Wait()
	close(order)

	var got []int
	for i := range order {
		got = append(got, i)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("FIFO order violated: got %v, want [0 1 2 3 4]", got)
		}
	}
}

func TestCheckoutTimeoutReturnsError(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()
	host, port := fs.addr()

	opts := testOptions(host, port)
	opts.MaxConns = 1
	opts.AcquireTimeout = 50 * time.Millisecond
	p := New(opts, typeregistry.New())
	defer p.Close()

	held, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer held.Checkin()

	_, err = p.Checkout(context.Background())
	if err == nil {
		t.Fatal("expected acquire timeout error")
	}
}

func TestCheckoutOptsNoQueueReturnsPoolFull(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()
	host, port := fs.addr()

	opts := testOptions(host, port)
	opts.MaxConns = 1
	p := New(opts, typeregistry.New())
	defer p.Close()

	held, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer held.Checkin()

	_, err = p.CheckoutOpts(context.Background(), false)
	if !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
}

func TestCheckoutContextCancellation(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()
	host, port := fs.addr()

	opts := testOptions(host, port)
	opts.MaxConns = 1
	opts.AcquireTimeout = 5 * time.Second
	p := New(opts, typeregistry.New())
	defer p.Close()

	held, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	defer held.Checkin()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Checkout(ctx)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestQueueTimeReportedOnlyForWaiters(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()
	host, port := fs.addr()

	opts := testOptions(host, port)
	opts.MaxConns = 1
	opts.AcquireTimeout = 5 * time.Second
	p := New(opts, typeregistry.New())
	defer p.Close()

	held, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if held.QueueTime() != 0 {
		t.Errorf("fresh-dial checkout reported queue time %v, want 0", held.QueueTime())
	}

	waited := make(chan time.Duration, 1)
	go func() {
		ref, err := p.Checkout(context.Background())
		if err != nil {
			t.Errorf("waiter Checkout: %v", err)
			return
		}
		waited <- ref.QueueTime()
		ref.Checkin()
	}()

	time.Sleep(50 * time.Millisecond)
	held.Checkin()

	if qt := <-waited; qt <= 0 {
		t.Errorf("queued checkout reported queue time %v, want > 0", qt)
	}

	ref, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("idle Checkout: %v", err)
	}
	if ref.QueueTime() != 0 {
		t.Errorf("idle-reuse checkout reported queue time %v, want 0", ref.QueueTime())
	}
	ref.Checkin()
}

func TestPoolExhaustedHookFires(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()
	host, port := fs.addr()

	var exhausted int32
	opts := testOptions(host, port)
	opts.MaxConns = 1
	opts.AcquireTimeout = 50 * time.Millisecond
	opts.Hooks = &Hooks{OnExhausted: func() { atomic.AddInt32(&exhausted, 1) }}
	p := New(opts, typeregistry.New())
	defer p.Close()

	held, _ := p.Checkout(context.Background())
	defer held.Checkin()

	p.Checkout(context.Background())
	if atomic.LoadInt32(&exhausted) == 0 {
		t.Error("expected OnExhausted hook to fire")
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	fs := startFakeServer(t)
	defer fs.close()
	host, port := fs.addr()

	opts := testOptions(host, port)
	opts.MaxConns = 1
	opts.AcquireTimeout = 5 * time.Second
	p := New(opts, typeregistry.New())

	held, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Checkout(context.Background())
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)

	go p.Close()
	// Close releases waiters before Drain blocks on the still-active
	// connection held above; release it shortly after so Close's Drain
	// pass doesn't hit its 30s force-close timeout during the test.
	time.Sleep(50 * time.Millisecond)
	held.Checkin()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected waiter to receive an error when pool closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never unblocked after Close")
	}
}
