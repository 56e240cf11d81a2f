package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nicwaller/gelftcp"
	"github.com/nicwaller/gelftcp/filter"
)

func startGelf(t *testing.T, opts GelfTcpOptions) (*TcpListener, chan *gelftcp.Event) {
	t.Helper()
	opts.Host = "127.0.0.1"
	opts.Port = 0
	l := GelfTcp(opts)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	events := make(chan *gelftcp.Event, 100)
	served := make(chan error, 1)
	go func() {
		served <- l.Serve(context.Background(), gelftcp.ChanSender(events))
	}()
	t.Cleanup(func() {
		l.Stop()
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Stop")
		}
	})
	return l, events
}

func dial(t *testing.T, l *TcpListener) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect to listener: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, frames ...string) {
	t.Helper()
	for _, frame := range frames {
		if _, err := conn.Write(append([]byte(frame), 0x00)); err != nil {
			t.Fatalf("Failed to write to TCP: %v", err)
		}
	}
}

func receive(t *testing.T, events <-chan *gelftcp.Event) *gelftcp.Event {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
		return nil
	}
}

func TestGelfTcp_DecodesAndTransforms(t *testing.T) {
	l, events := startGelf(t, DefaultGelfTcpOptions())
	conn := dial(t, l)

	send(t, conn,
		`{"version":"1.1","host":"example.org","full_message":"A","short_message":"A","timestamp":1500000000,"_app":"x","_env":"prod"}`,
		`{"short_message":"B","level":3}`,
	)

	first := receive(t, events)
	if first.Get("message") != "A" {
		t.Errorf(`Expected message "A" but got "%v"`, first.Get("message"))
	}
	for _, gone := range []string{"full_message", "short_message", "timestamp", "_app", "_env"} {
		if first.Has(gone) {
			t.Errorf("Expected [%s] to be gone", gone)
		}
	}
	if first.Get("app") != "x" || first.Get("env") != "prod" {
		t.Errorf("Expected stripped fields app=x env=prod but got %v", first.Fields)
	}
	expectedTs := time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)
	if ts, ok := first.Get("@timestamp").(time.Time); !ok || !ts.Equal(expectedTs) {
		t.Errorf(`Expected @timestamp "%s" but got "%v"`, expectedTs, first.Get("@timestamp"))
	}
	if first.Get("source_host") != "127.0.0.1" {
		t.Errorf(`Expected source_host "127.0.0.1" but got "%v"`, first.Get("source_host"))
	}

	second := receive(t, events)
	if second.Get("message") != "B" {
		t.Errorf(`Expected message "B" but got "%v"`, second.Get("message"))
	}
	if second.Has("short_message") {
		t.Error("Expected short_message to be remapped")
	}
}

func TestGelfTcp_TransformsDisabled(t *testing.T) {
	l, events := startGelf(t, GelfTcpOptions{})
	conn := dial(t, l)
	send(t, conn, `{"short_message":"B","_app":"x"}`)

	evt := receive(t, events)
	if evt.Get("short_message") != "B" || evt.Get("_app") != "x" {
		t.Errorf("Expected fields untouched but got %v", evt.Fields)
	}
	if evt.Has("message") || evt.Has("app") {
		t.Errorf("Expected no remapped fields but got %v", evt.Fields)
	}
}

func TestGelfTcp_MalformedFrameIsSkipped(t *testing.T) {
	l, events := startGelf(t, DefaultGelfTcpOptions())
	conn := dial(t, l)

	send(t, conn, `{"short_message":`, `["not","an","object"]`, `{"short_message":"still here"}`)

	evt := receive(t, events)
	if evt.Get("message") != "still here" {
		t.Errorf(`Expected "still here" but got "%v"`, evt.Get("message"))
	}
	select {
	case extra := <-events:
		t.Errorf("Expected malformed frames to be dropped, got %v", extra.Fields)
	default:
	}
}

func TestGelfTcp_ConcurrentConnections(t *testing.T) {
	const n = 25
	l, events := startGelf(t, DefaultGelfTcpOptions())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", l.Addr().String())
			if err != nil {
				t.Errorf("Failed to connect: %v", err)
				return
			}
			defer conn.Close()
			frame := fmt.Sprintf(`{"short_message":"conn-%02d","_seq":%d}`, i, i)
			if _, err := conn.Write(append([]byte(frame), 0x00)); err != nil {
				t.Errorf("Failed to write: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var got []string
	for i := 0; i < n; i++ {
		evt := receive(t, events)
		msg := evt.Field("message").GetString()
		if want := fmt.Sprintf("conn-%02d", evt.Field("seq").GetInt()); msg != want {
			t.Errorf(`Expected fields from one connection, got message "%s" with seq for "%s"`, msg, want)
		}
		if evt.Get("source_host") != "127.0.0.1" {
			t.Errorf(`Expected source_host "127.0.0.1" but got "%v"`, evt.Get("source_host"))
		}
		got = append(got, msg)
	}
	sort.Strings(got)
	for i, msg := range got {
		if want := fmt.Sprintf("conn-%02d", i); msg != want {
			t.Errorf(`Expected "%s" but got "%s"`, want, msg)
		}
	}
}

func TestGelfTcp_OrderWithinConnection(t *testing.T) {
	l, events := startGelf(t, DefaultGelfTcpOptions())
	conn := dial(t, l)
	for i := 0; i < 50; i++ {
		send(t, conn, fmt.Sprintf(`{"short_message":"%d"}`, i))
	}
	for i := 0; i < 50; i++ {
		evt := receive(t, events)
		if want := fmt.Sprint(i); evt.Get("message") != want {
			t.Fatalf(`Expected "%s" but got "%v"`, want, evt.Get("message"))
		}
	}
}

func TestTcpListener_AddressInUse(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	l := GelfTcp(GelfTcpOptions{
		Host: "127.0.0.1",
		Port: taken.Addr().(*net.TCPAddr).Port,
	})
	err = l.Start(context.Background())
	if !errors.Is(err, ErrAddressInUse) {
		t.Errorf("Expected ErrAddressInUse but got %v", err)
	}
	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Errorf("Expected *BindError but got %T", err)
	}
	if l.State() != StateCreated {
		t.Errorf("Expected state %s but got %s", StateCreated, l.State())
	}
}

func TestTcpListener_StopClosesConnectionsAndReleasesAddress(t *testing.T) {
	l, events := startGelf(t, DefaultGelfTcpOptions())
	addr := l.Addr().String()

	conn := dial(t, l)
	send(t, conn, `{"short_message":"before stop"}`)
	receive(t, events)
	if active := l.ActiveConnections(); active != 1 {
		t.Errorf("Expected 1 active connection but got %d", active)
	}

	l.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Handlers did not drain: %v", err)
	}
	if l.State() != StateStopped {
		t.Errorf("Expected state %s but got %s", StateStopped, l.State())
	}
	if active := l.ActiveConnections(); active != 0 {
		t.Errorf("Expected 0 active connections but got %d", active)
	}

	// the client sees its connection closed
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("Expected client connection to be closed")
	}

	rebound, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Expected %s to be free after Stop: %v", addr, err)
	}
	_ = rebound.Close()
}

func TestTcpListener_StopIsIdempotent(t *testing.T) {
	l := GelfTcp(GelfTcpOptions{Host: "127.0.0.1"})
	l.Stop()
	l.Stop()
	if l.State() != StateStopped {
		t.Errorf("Expected state %s but got %s", StateStopped, l.State())
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrListenerStopped) {
		t.Errorf("Expected ErrListenerStopped but got %v", err)
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestTcpListener_MaxConnections(t *testing.T) {
	opts := DefaultGelfTcpOptions()
	opts.MaxConnections = 1
	l, events := startGelf(t, opts)

	first := dial(t, l)
	send(t, first, `{"short_message":"first"}`)
	receive(t, events)

	second := dial(t, l)
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("Expected connection over the cap to be closed, got %v", err)
	}

	// the first connection is unaffected
	send(t, first, `{"short_message":"still first"}`)
	if evt := receive(t, events); evt.Get("message") != "still first" {
		t.Errorf(`Expected "still first" but got "%v"`, evt.Get("message"))
	}
}

func TestTcpListener_MaxFrameSizeClosesConnection(t *testing.T) {
	opts := DefaultGelfTcpOptions()
	opts.MaxFrameSize = 32
	l, events := startGelf(t, opts)

	conn := dial(t, l)
	send(t, conn, `{"short_message":"this frame is far too long to be accepted"}`)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("Expected oversized frame to close the connection")
	}
	select {
	case evt := <-events:
		t.Errorf("Expected no event but got %v", evt.Fields)
	default:
	}
}

// flakyListener fails the first Accept to simulate a transient fault
type flakyListener struct {
	net.Listener
	failed bool
}

func (f *flakyListener) Accept() (net.Conn, error) {
	if !f.failed {
		f.failed = true
		return nil, errors.New("accept: too many open files")
	}
	return f.Listener.Accept()
}

func TestTcpListener_RestartsAfterAcceptFault(t *testing.T) {
	opts := DefaultGelfTcpOptions()
	opts.Host = "127.0.0.1"
	opts.Port = 0
	opts.RestartBackoff = 10 * time.Millisecond
	l := GelfTcp(opts)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.ln = &flakyListener{Listener: l.ln}

	events := make(chan *gelftcp.Event, 1)
	served := make(chan error, 1)
	go func() {
		served <- l.Serve(context.Background(), gelftcp.ChanSender(events))
	}()

	conn := dial(t, l)
	send(t, conn, `{"short_message":"after restart"}`)
	if evt := receive(t, events); evt.Get("message") != "after restart" {
		t.Errorf(`Expected "after restart" but got "%v"`, evt.Get("message"))
	}

	l.Stop()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Expected clean shutdown but got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestTcpListener_StopDuringBackoff(t *testing.T) {
	opts := DefaultGelfTcpOptions()
	opts.Host = "127.0.0.1"
	opts.Port = 0
	opts.RestartBackoff = time.Hour
	l := GelfTcp(opts)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.ln = &flakyListener{Listener: l.ln}

	served := make(chan error, 1)
	go func() {
		served <- l.Serve(context.Background(), gelftcp.ChanSender(make(chan *gelftcp.Event)))
	}()
	time.Sleep(50 * time.Millisecond)
	l.Stop()

	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Expected clean shutdown but got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve stayed in backoff after Stop")
	}
}

func TestTcpListener_RunStopsWithContext(t *testing.T) {
	l := GelfTcp(GelfTcpOptions{Host: "127.0.0.1", Remap: true})
	events := make(chan *gelftcp.Event, 10)
	ctx, cancel := context.WithCancel(context.Background())

	ran := make(chan error, 1)
	go func() {
		ran <- l.Run(ctx, gelftcp.ChanSender(events))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for l.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("listener never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn := dial(t, l)
	send(t, conn, `{"short_message":"via run"}`)
	if evt := receive(t, events); evt.Get("message") != "via run" {
		t.Errorf(`Expected "via run" but got "%v"`, evt.Get("message"))
	}

	cancel()
	select {
	case err := <-ran:
		if err != nil {
			t.Errorf("Expected nil from Run but got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if l.State() != StateStopped {
		t.Errorf("Expected state %s but got %s", StateStopped, l.State())
	}
}

func TestTcpListener_TruncatedFrameAtClose(t *testing.T) {
	l, events := startGelf(t, DefaultGelfTcpOptions())
	conn := dial(t, l)
	send(t, conn, `{"short_message":"complete"}`)
	_, _ = conn.Write([]byte(`{"short_message":"partial`))
	_ = conn.Close()

	if evt := receive(t, events); evt.Get("message") != "complete" {
		t.Errorf(`Expected "complete" but got "%v"`, evt.Get("message"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.ActiveConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler did not exit after client closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type slowOutput struct {
	mu        sync.Mutex
	delivered int
	first     chan struct{}
	once      sync.Once
}

func (o *slowOutput) Run(_ context.Context, _ *gelftcp.Event) error {
	time.Sleep(20 * time.Millisecond)
	o.mu.Lock()
	o.delivered++
	o.mu.Unlock()
	o.once.Do(func() { close(o.first) })
	return nil
}

func TestTcpListener_ShutdownWithSlowOutput(t *testing.T) {
	opts := DefaultGelfTcpOptions()
	opts.Host = "127.0.0.1"
	opts.Port = 0
	opts.DrainTimeout = 100 * time.Millisecond
	l := GelfTcp(opts)

	out := &slowOutput{first: make(chan struct{})}
	p := gelftcp.NewPipeline("slow", gelftcp.PipelineOptions{BufferSize: 1})
	p.Input("gelf_tcp", l)
	p.Output("slow", out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ran := make(chan error, 1)
	go func() {
		ran <- p.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for l.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("listener never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn := dial(t, l)
	var burst []byte
	for i := 0; i < 200; i++ {
		burst = append(burst, fmt.Sprintf(`{"short_message":"%d"}`, i)...)
		burst = append(burst, 0x00)
	}
	if _, err := conn.Write(burst); err != nil {
		t.Fatal(err)
	}

	select {
	case <-out.first:
	case <-time.After(2 * time.Second):
		t.Fatal("no event reached the output")
	}
	cancel()

	select {
	case err := <-ran:
		if err != nil {
			t.Errorf("Expected clean shutdown but got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not return after cancel")
	}

	// the handler still sending after the drain timeout must give up quietly
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := l.Wait(waitCtx); err != nil {
		t.Fatalf("Handlers did not exit after the pipeline closed: %v", err)
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.delivered == 0 || out.delivered >= 200 {
		t.Errorf("Expected a partial delivery but got %d events", out.delivered)
	}
}

func TestGelfTcp_ExtraFiltersRunAfterTransforms(t *testing.T) {
	opts := DefaultGelfTcpOptions()
	opts.Filters = []gelftcp.NamedEntity[gelftcp.FilterPlugin]{
		{Name: "rename app", Value: filter.Rename("app", "application")},
	}
	l, events := startGelf(t, opts)
	conn := dial(t, l)
	send(t, conn, `{"short_message":"hi","_app":"x"}`)

	evt := receive(t, events)
	if evt.Get("application") != "x" || evt.Has("app") || evt.Has("_app") {
		t.Errorf("Expected _app to end up as application but got %v", evt.Fields)
	}
}
