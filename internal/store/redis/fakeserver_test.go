package redis

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// fakeRedis speaks just enough RESP for the publisher pipeline: SET, XADD
// and PUBLISH. It records what was written.
type fakeRedis struct {
	mu        sync.Mutex
	latest    map[string]string
	stream    map[string][]string
	published map[string]int
	seq       int
}

func startFakeRedis(t *testing.T) (*fakeRedis, *goredis.Client) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeRedis{
		latest:    make(map[string]string),
		stream:    make(map[string][]string),
		published: make(map[string]int),
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()

	client := goredis.NewClient(&goredis.Options{Addr: ln.Addr().String(), MaxRetries: -1})
	t.Cleanup(func() {
		client.Close()
		ln.Close()
	})
	return f, client
}

func (f *fakeRedis) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		w.WriteString(f.apply(args))
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (f *fakeRedis) apply(args []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "SET":
		f.latest[args[1]] = args[2]
		return "+OK\r\n"
	case "XADD":
		f.seq++
		f.stream[args[1]] = append(f.stream[args[1]], args[len(args)-1])
		id := fmt.Sprintf("%d-0", f.seq)
		return fmt.Sprintf("$%d\r\n%s\r\n", len(id), id)
	case "PUBLISH":
		f.published[args[1]]++
		return ":0\r\n"
	}
	return "-ERR unknown command\r\n"
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hdr, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(hdr[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

// latestAt decodes the cached update for key and returns its At.
func (f *fakeRedis) latestAt(t *testing.T, exchange, symbol string) time.Time {
	t.Helper()
	f.mu.Lock()
	raw, ok := f.latest[LatestKey(exchange, symbol)]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no latest value for %s:%s", exchange, symbol)
	}
	u, err := DecodeUpdate([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return u.At
}

func (f *fakeRedis) streamLen(exchange, symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stream[StreamKey(exchange, symbol)])
}
