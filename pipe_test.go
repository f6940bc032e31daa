package reconos_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/reconos"
	"github.com/creachadair/reconos/code"
	"github.com/creachadair/reconos/metrics"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func mustPipe(t *testing.T, opts *reconos.PipeOptions) *reconos.Pipe {
	t.Helper()
	p, err := reconos.NewPipe(opts)
	if err != nil {
		t.Fatalf("NewPipe: unexpected error: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// payload returns n bytes with distinct nonzero values.
func payload(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i%251 + 1)
	}
	return buf
}

type result struct {
	sent, got int
	dst       []byte
}

// sendRecv runs one transfer with the consumer offering capacity and the
// producer running produce, and reports both sides' results.
func sendRecv(t *testing.T, p *reconos.Pipe, capacity int, produce func(*reconos.Pipe) int) result {
	t.Helper()
	var wg sync.WaitGroup
	var res result
	res.dst = make([]byte, capacity)

	wg.Add(2)
	go func() {
		defer wg.Done()
		res.got = p.Recv(res.dst)
	}()
	go func() {
		defer wg.Done()
		res.sent = produce(p)
	}()
	wg.Wait()
	return res
}

func send(data []byte) func(*reconos.Pipe) int {
	return func(p *reconos.Pipe) int { return p.Send(data) }
}

func reserveCommit(data []byte) func(*reconos.Pipe) int {
	return func(p *reconos.Pipe) int {
		n := p.Reserve(len(data))
		p.Commit(data)
		return n
	}
}

func TestLengthNegotiation(t *testing.T) {
	defer leaktest.Check(t)()

	sizes := []int{0, 1, 3, 4, 8, 10, 64, 1000}
	for _, c := range sizes {
		for _, n := range sizes {
			data := payload(n)
			want := min(c, n)
			for _, v := range []struct {
				name    string
				produce func(*reconos.Pipe) int
			}{
				{"Send", send(data)},
				{"ReserveCommit", reserveCommit(data)},
			} {
				t.Run(fmt.Sprintf("%s/c=%d/p=%d", v.name, c, n), func(t *testing.T) {
					p := mustPipe(t, nil)
					res := sendRecv(t, p, c, v.produce)
					if res.sent != want {
						t.Errorf("Producer: got length %d, want %d", res.sent, want)
					}
					if res.got != want {
						t.Errorf("Recv: got length %d, want %d", res.got, want)
					}
					if diff := cmp.Diff(data[:want], res.dst[:res.got]); diff != "" {
						t.Errorf("Received data (-want, +got):\n%s", diff)
					}
					// Bytes past the transfer are untouched.
					if tail := res.dst[res.got:]; !bytes.Equal(tail, make([]byte, len(tail))) {
						t.Errorf("Recv: bytes beyond the transfer were modified: %v", tail)
					}
				})
			}
		}
	}
}

func TestScenarios(t *testing.T) {
	t.Run("ShortSend", func(t *testing.T) {
		p := mustPipe(t, nil)
		res := sendRecv(t, p, 10, send([]byte{1, 2, 3, 4}))
		if res.got != 4 {
			t.Errorf("Recv: got %d, want 4", res.got)
		}
		if diff := cmp.Diff([]byte{1, 2, 3, 4}, res.dst[:4]); diff != "" {
			t.Errorf("Received data (-want, +got):\n%s", diff)
		}
	})

	t.Run("TruncatedSend", func(t *testing.T) {
		p := mustPipe(t, nil)
		data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
		res := sendRecv(t, p, 3, send(data))
		if res.sent != 3 || res.got != 3 {
			t.Errorf("Transfer: sent %d, got %d; want 3, 3", res.sent, res.got)
		}
		if diff := cmp.Diff(data[:3], res.dst); diff != "" {
			t.Errorf("Received data (-want, +got):\n%s", diff)
		}

		// The dropped bytes must not show up in a later transfer.
		res = sendRecv(t, p, 10, send([]byte{99}))
		if res.got != 1 || res.dst[0] != 99 {
			t.Errorf("Next transfer: got %d bytes %v, want [99]", res.got, res.dst[:res.got])
		}
	})

	t.Run("ReserveShrinks", func(t *testing.T) {
		p := mustPipe(t, nil)
		data := payload(50) // more than reserved, only 8 are copied
		res := sendRecv(t, p, 8, func(p *reconos.Pipe) int {
			n := p.Reserve(20)
			p.Commit(data)
			return n
		})
		if res.sent != 8 {
			t.Errorf("Reserve(20): got %d, want 8", res.sent)
		}
		if res.got != 8 {
			t.Errorf("Recv: got %d, want 8", res.got)
		}
		if diff := cmp.Diff(data[:8], res.dst); diff != "" {
			t.Errorf("Received data (-want, +got):\n%s", diff)
		}
	})
}

func TestSplitEquivalence(t *testing.T) {
	tests := []struct{ c, p int }{
		{0, 0}, {5, 0}, {0, 5}, {7, 7}, {16, 9}, {9, 16}, {1, 4096}, {4096, 1},
	}
	for _, test := range tests {
		data := payload(test.p)
		a := sendRecv(t, mustPipe(t, nil), test.c, send(data))
		b := sendRecv(t, mustPipe(t, nil), test.c, reserveCommit(data))
		if diff := cmp.Diff(a, b, cmp.AllowUnexported(result{})); diff != "" {
			t.Errorf("c=%d p=%d: Send and Reserve/Commit differ (-send, +split):\n%s", test.c, test.p, diff)
		}
	}
}

func TestSequentialReuse(t *testing.T) {
	defer leaktest.Check(t)()

	p := mustPipe(t, nil)
	const rounds = 200

	var wg sync.WaitGroup
	sent := make([]int, rounds)
	got := make([][]byte, rounds)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			data := bytes.Repeat([]byte{byte(i)}, i%17)
			if i%2 == 0 {
				sent[i] = p.Send(data)
			} else {
				n := p.Reserve(len(data))
				p.Commit(data)
				sent[i] = n
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			buf := make([]byte, i%11)
			n := p.Recv(buf)
			got[i] = buf[:n]
		}
	}()
	wg.Wait()

	for i := 0; i < rounds; i++ {
		want := bytes.Repeat([]byte{byte(i)}, min(i%17, i%11))
		if sent[i] != len(want) {
			t.Errorf("Round %d: producer got %d, want %d", i, sent[i], len(want))
		}
		if !bytes.Equal(got[i], want) {
			t.Errorf("Round %d: got %v, want %v", i, got[i], want)
		}
	}
}

func TestRendezvousOrdering(t *testing.T) {
	defer leaktest.Check(t)()
	const settle = 50 * time.Millisecond

	t.Run("ProducerFirst", func(t *testing.T) {
		p := mustPipe(t, nil)
		done := make(chan int)
		go func() { done <- p.Send([]byte("hello")) }()

		select {
		case n := <-done:
			t.Fatalf("Send returned %d before any consumer arrived", n)
		case <-time.After(settle):
		}
		buf := make([]byte, 16)
		if n := p.Recv(buf); n != 5 {
			t.Errorf("Recv: got %d, want 5", n)
		}
		if n := <-done; n != 5 {
			t.Errorf("Send: got %d, want 5", n)
		}
	})

	t.Run("ConsumerFirst", func(t *testing.T) {
		p := mustPipe(t, nil)
		buf := make([]byte, 16)
		done := make(chan int)
		go func() { done <- p.Recv(buf) }()

		select {
		case n := <-done:
			t.Fatalf("Recv returned %d before any producer arrived", n)
		case <-time.After(settle):
		}
		if n := p.Send([]byte("world")); n != 5 {
			t.Errorf("Send: got %d, want 5", n)
		}
		if n := <-done; n != 5 {
			t.Errorf("Recv: got %d, want 5", n)
		}
		if got := string(buf[:5]); got != "world" {
			t.Errorf("Recv: got %q, want %q", got, "world")
		}
	})

	t.Run("ReserveHoldsConsumer", func(t *testing.T) {
		p := mustPipe(t, nil)
		buf := make([]byte, 16)
		done := make(chan int)
		go func() { done <- p.Recv(buf) }()

		n := p.Reserve(3)
		select {
		case n := <-done:
			t.Fatalf("Recv returned %d before Commit", n)
		case <-time.After(settle):
		}
		p.Commit([]byte("abc"))
		if got := <-done; got != n {
			t.Errorf("Recv: got %d, want %d", got, n)
		}
	})
}

func TestIndependentPipes(t *testing.T) {
	defer leaktest.Check(t)()

	const numPipes, rounds = 8, 50
	var wg sync.WaitGroup
	errc := make(chan error, numPipes)
	for i := 0; i < numPipes; i++ {
		p := mustPipe(t, nil)
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				p.Send([]byte(fmt.Sprintf("pipe %d round %d", i, r)))
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			buf := make([]byte, 64)
			for r := 0; r < rounds; r++ {
				n := p.Recv(buf)
				if got, want := string(buf[:n]), fmt.Sprintf("pipe %d round %d", i, r); got != want {
					errc <- fmt.Errorf("got %q, want %q", got, want)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Error(err)
	}
}

func TestBudget(t *testing.T) {
	b := reconos.NewBudget(3)
	p1, err := reconos.NewPipe(&reconos.PipeOptions{Budget: b})
	if err != nil {
		t.Fatalf("NewPipe: unexpected error: %v", err)
	}
	if got := b.InUse(); got != 2 {
		t.Errorf("InUse after first pipe: got %d, want 2", got)
	}

	p2, err := reconos.NewPipe(&reconos.PipeOptions{Budget: b})
	if !errors.Is(err, reconos.ErrResourceExhausted) {
		t.Fatalf("NewPipe: got (%v, %v), want ErrResourceExhausted", p2, err)
	}
	if c := code.FromError(err); c != code.ResourceExhausted {
		t.Errorf("FromError: got %v, want %v", c, code.ResourceExhausted)
	}
	// The failed allocation must not leave a signal behind.
	if got := b.InUse(); got != 2 {
		t.Errorf("InUse after failed pipe: got %d, want 2", got)
	}

	if err := p1.Close(); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}
	if err := p1.Close(); !errors.Is(err, reconos.ErrClosed) {
		t.Errorf("Second Close: got %v, want ErrClosed", err)
	}
	if got := b.InUse(); got != 0 {
		t.Errorf("InUse after Close: got %d, want 0", got)
	}

	p2, err = reconos.NewPipe(&reconos.PipeOptions{Budget: b})
	if err != nil {
		t.Fatalf("NewPipe after Close: unexpected error: %v", err)
	}
	p2.Close()

	var nb *reconos.Budget
	if got := nb.Cap(); got != -1 {
		t.Errorf("Cap of nil budget: got %d, want -1", got)
	}
}

func TestCancelledWaits(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("SendTimeout", func(t *testing.T) {
		p := mustPipe(t, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		n, err := p.SendContext(ctx, []byte("lost"))
		if !errors.Is(err, context.DeadlineExceeded) || n != 0 {
			t.Errorf("SendContext: got (%d, %v), want (0, %v)", n, err, context.DeadlineExceeded)
		}
		// The pipe is still usable.
		res := sendRecv(t, p, 8, send([]byte("next")))
		if string(res.dst[:res.got]) != "next" {
			t.Errorf("After timeout: got %q, want %q", res.dst[:res.got], "next")
		}
	})

	t.Run("ReserveTimeout", func(t *testing.T) {
		p := mustPipe(t, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if n, err := p.ReserveContext(ctx, 10); !errors.Is(err, context.DeadlineExceeded) || n != 0 {
			t.Errorf("ReserveContext: got (%d, %v), want (0, %v)", n, err, context.DeadlineExceeded)
		}
		res := sendRecv(t, p, 8, reserveCommit([]byte("ok")))
		if res.got != 2 {
			t.Errorf("After timeout: got %d, want 2", res.got)
		}
	})

	t.Run("RecvWithdrawn", func(t *testing.T) {
		p := mustPipe(t, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		buf := make([]byte, 8)
		if n, err := p.RecvContext(ctx, buf); !errors.Is(err, context.DeadlineExceeded) || n != 0 {
			t.Errorf("RecvContext: got (%d, %v), want (0, %v)", n, err, context.DeadlineExceeded)
		}

		// The withdrawn request must not be visible to a later producer.
		sctx, scancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer scancel()
		if n, err := p.SendContext(sctx, []byte("stale")); err == nil {
			t.Errorf("SendContext matched a withdrawn request: sent %d bytes", n)
		}
		if !bytes.Equal(buf, make([]byte, 8)) {
			t.Errorf("Withdrawn buffer was written: %v", buf)
		}
	})
}

func TestMetricsAndLogging(t *testing.T) {
	var logBuf bytes.Buffer
	m := metrics.New()
	p := mustPipe(t, &reconos.PipeOptions{
		LogWriter: &logBuf,
		Name:      "test",
		Metrics:   m,
	})

	sendRecv(t, p, 4, send([]byte{1, 2}))             // exact
	sendRecv(t, p, 4, send([]byte{1, 2, 3, 4, 5, 6})) // truncated
	sendRecv(t, p, 4, reserveCommit([]byte{9, 9, 9}))  // exact

	counters, maxes := map[string]int64{}, map[string]int64{}
	m.Snapshot(counters, maxes)
	want := map[string]int64{
		metrics.Transfers: 3,
		metrics.Bytes:     9,
		metrics.Exact:     2,
		metrics.Truncated: 1,
	}
	if diff := cmp.Diff(want, counters); diff != "" {
		t.Errorf("Counters (-want, +got):\n%s", diff)
	}
	if got := maxes[metrics.TransferSize]; got != 4 {
		t.Errorf("Max transfer size: got %d, want 4", got)
	}

	logs := logBuf.String()
	for _, want := range []string{"[reconos.Pipe test]", "Transfer truncated: 4 of 6 bytes", "Transfer complete: 2 bytes"} {
		if !strings.Contains(logs, want) {
			t.Errorf("Log output missing %q:\n%s", want, logs)
		}
	}

	if pm := reconos.PipeMetrics(); pm.Get("transfers_truncated") == nil || pm.Get("transfers_aborted") == nil {
		t.Error("PipeMetrics is missing transfer counters")
	}
}

func TestCancelRace(t *testing.T) {
	defer leaktest.Check(t)()

	type outcome struct {
		n   int
		err error
	}
	check := func(t *testing.T, i int, sent, got outcome) {
		t.Helper()
		switch {
		case sent.err == nil && got.err == nil:
			if sent.n != got.n {
				t.Errorf("Round %d: sent %d, received %d", i, sent.n, got.n)
			}
		case sent.err != nil && got.err != nil:
			// Both gave up; nothing moved.
		default:
			t.Errorf("Round %d: mismatched outcome: send (%d, %v), recv (%d, %v)",
				i, sent.n, sent.err, got.n, got.err)
		}
	}

	tests := []struct {
		name   string
		shared bool // both sides use the producer's context
	}{
		{"SharedDeadline", true},
		{"SeparateDeadlines", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := mustPipe(t, nil)
			data := []byte("payload")
			for i := 0; i < 2000; i++ {
				sctx, scancel := context.WithTimeout(context.Background(), time.Duration(i%50)*time.Microsecond)
				rctx, rcancel := sctx, scancel
				if !test.shared {
					rctx, rcancel = context.WithTimeout(context.Background(), time.Duration(i*7%50)*time.Microsecond)
				}

				var sent, got outcome
				var wg sync.WaitGroup
				wg.Add(2)
				go func() {
					defer wg.Done()
					sent.n, sent.err = p.SendContext(sctx, data)
				}()
				go func() {
					defer wg.Done()
					got.n, got.err = p.RecvContext(rctx, make([]byte, 4))
				}()
				wg.Wait()
				scancel()
				rcancel()
				check(t, i, sent, got)
			}

			// No stale request or signal survives the rounds.
			res := sendRecv(t, p, 8, send([]byte("final")))
			if got := string(res.dst[:res.got]); got != "final" {
				t.Errorf("After race: got %q, want %q", got, "final")
			}
		})
	}
}

func TestAbort(t *testing.T) {
	defer leaktest.Check(t)()
	m := metrics.New()
	p := mustPipe(t, &reconos.PipeOptions{Metrics: m})

	type recvResult struct {
		n   int
		err error
	}
	buf := make([]byte, 8)
	done := make(chan recvResult, 1)
	go func() {
		n, err := p.RecvContext(context.Background(), buf)
		done <- recvResult{n, err}
	}()

	if n := p.Reserve(6); n != 6 {
		t.Fatalf("Reserve(6): got %d, want 6", n)
	}
	p.Abort()

	r := <-done
	if r.n != 0 || !errors.Is(r.err, reconos.ErrAborted) {
		t.Errorf("RecvContext: got (%d, %v), want (0, ErrAborted)", r.n, r.err)
	}
	if c := code.FromError(r.err); c != code.Aborted {
		t.Errorf("FromError: got %v, want %v", c, code.Aborted)
	}
	if !bytes.Equal(buf, make([]byte, 8)) {
		t.Errorf("Aborted transfer wrote the buffer: %v", buf)
	}
	if got := m.Counter(metrics.Aborted); got != 1 {
		t.Errorf("Aborted count: got %d, want 1", got)
	}

	// The abort does not carry over to the next transfer.
	res := sendRecv(t, p, 8, reserveCommit([]byte("next")))
	if got := string(res.dst[:res.got]); got != "next" {
		t.Errorf("After abort: got %q, want %q", got, "next")
	}
}
