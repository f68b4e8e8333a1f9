// Package redisstub runs a minimal in-process Redis server for tests.
// It implements just enough of the wire protocol for the telemetry queue
// (streams with consumer groups) and the login rate limiter (counters
// with expiry). Unknown commands get an error reply but keep the
// connection open so real client handshakes can fall back gracefully.
package redisstub

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password  string
	EnableTLS bool
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	closed   chan struct{}
	certPEM  []byte
	keyPEM   []byte

	mu       sync.Mutex
	streams  map[string]*stubStream
	counters map[string]*counter
}

type stubStream struct {
	entries []stubEntry
	groups  map[string]*consumerGroup
}

type stubEntry struct {
	id     string
	fields map[string]string
}

type consumerGroup struct {
	cursor  int
	pending map[string]struct{}
}

type counter struct {
	value  int64
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	server := &Server{
		opts:     opts,
		closed:   make(chan struct{}),
		streams:  make(map[string]*stubStream),
		counters: make(map[string]*counter),
	}
	var (
		ln  net.Listener
		err error
	)
	if opts.EnableTLS {
		certPEM, keyPEM, cert, certErr := selfSignedCert()
		if certErr != nil {
			return nil, certErr
		}
		server.certPEM = certPEM
		server.keyPEM = keyPEM
		ln, err = tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return nil, err
	}
	server.listener = ln
	server.addr = ln.Addr().String()
	go server.acceptLoop()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) CertPEM() []byte {
	return s.certPEM
}

func (s *Server) KeyPEM() []byte {
	return s.keyPEM
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

// StreamLen reports how many entries a stream holds, for test assertions.
func (s *Server) StreamLen(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm, ok := s.streams[name]
	if !ok {
		return 0
	}
	return len(strm.entries)
}

// CounterValue reports the current value of an INCR key, or 0 when unset.
func (s *Server) CounterValue(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.counters[key]
	if !ok {
		return 0
	}
	return entry.value
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authed := s.opts.Password == ""
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if replyError(writer, "ERR empty command") != nil {
				return
			}
			continue
		}
		var replyErr error
		switch strings.ToUpper(args[0]) {
		case "PING":
			replyErr = replySimple(writer, "PONG")
		case "AUTH":
			authed, replyErr = s.handleAuth(writer, args, authed)
		case "HELLO":
			// Force RESP2 fallback in real clients.
			replyErr = replyError(writer, "ERR unknown command 'HELLO'")
		case "CLIENT", "SELECT", "READONLY":
			replyErr = replySimple(writer, "OK")
		case "QUIT":
			_ = replySimple(writer, "OK")
			return
		default:
			if !authed {
				replyErr = replyError(writer, "NOAUTH Authentication required.")
				break
			}
			replyErr = s.handleCommand(writer, args)
		}
		if replyErr != nil {
			return
		}
	}
}

func (s *Server) handleAuth(w *bufio.Writer, args []string, authed bool) (bool, error) {
	secret := ""
	switch len(args) {
	case 2:
		secret = args[1]
	case 3:
		secret = args[2]
	default:
		return authed, replyError(w, "ERR wrong number of arguments for 'auth'")
	}
	if s.opts.Password == "" || secret == s.opts.Password {
		return true, replySimple(w, "OK")
	}
	return authed, replyError(w, "WRONGPASS invalid username-password pair")
}

func (s *Server) handleCommand(w *bufio.Writer, args []string) error {
	switch strings.ToUpper(args[0]) {
	case "XADD":
		return s.handleXAdd(w, args)
	case "XGROUP":
		return s.handleXGroup(w, args)
	case "XREADGROUP":
		return s.handleXReadGroup(w, args)
	case "XACK":
		return s.handleXAck(w, args)
	case "INCR":
		if len(args) != 2 {
			return replyError(w, "ERR wrong number of arguments for 'incr'")
		}
		return replyInteger(w, s.incr(args[1]))
	case "EXPIRE":
		if len(args) != 3 {
			return replyError(w, "ERR wrong number of arguments for 'expire'")
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return replyError(w, "ERR invalid expire time")
		}
		s.expire(args[1], time.Duration(seconds)*time.Second)
		return replyInteger(w, 1)
	case "TTL":
		if len(args) != 2 {
			return replyError(w, "ERR wrong number of arguments for 'ttl'")
		}
		return replyInteger(w, s.ttl(args[1]))
	default:
		return replyError(w, fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func (s *Server) handleXAdd(w *bufio.Writer, args []string) error {
	if len(args) < 5 {
		return replyError(w, "ERR wrong number of arguments for 'xadd'")
	}
	stream, id := args[1], args[2]
	if id == "*" {
		id = fmt.Sprintf("%d-0", time.Now().UnixNano())
	}
	fields := make(map[string]string)
	for i := 3; i+1 < len(args); i += 2 {
		fields[args[i]] = args[i+1]
	}
	s.mu.Lock()
	strm := s.stream(stream)
	strm.entries = append(strm.entries, stubEntry{id: id, fields: fields})
	s.mu.Unlock()
	return replyBulk(w, id)
}

func (s *Server) handleXGroup(w *bufio.Writer, args []string) error {
	if len(args) < 5 || strings.ToUpper(args[1]) != "CREATE" {
		return replyError(w, "ERR only XGROUP CREATE is supported")
	}
	stream, group := args[2], args[3]
	s.mu.Lock()
	strm := s.stream(stream)
	if _, exists := strm.groups[group]; exists {
		s.mu.Unlock()
		return replyError(w, "BUSYGROUP Consumer Group name already exists")
	}
	strm.groups[group] = &consumerGroup{pending: make(map[string]struct{})}
	s.mu.Unlock()
	return replySimple(w, "OK")
}

func (s *Server) handleXReadGroup(w *bufio.Writer, args []string) error {
	var group, stream string
	count := 1
	blockMs := 0
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "GROUP":
			if i+2 >= len(args) {
				return replyError(w, "ERR syntax error")
			}
			group = args[i+1]
			i += 2
		case "COUNT":
			if i+1 >= len(args) {
				return replyError(w, "ERR syntax error")
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return replyError(w, "ERR invalid COUNT")
			}
			count = v
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return replyError(w, "ERR syntax error")
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return replyError(w, "ERR invalid BLOCK")
			}
			blockMs = v
			i++
		case "STREAMS":
			if i+1 >= len(args) {
				return replyError(w, "ERR syntax error")
			}
			stream = args[i+1]
			i = len(args)
		}
	}
	if stream == "" || group == "" {
		return replyError(w, "ERR missing stream or group")
	}
	deadline := time.Now().Add(time.Duration(blockMs) * time.Millisecond)
	for {
		records := s.claim(stream, group, count)
		if len(records) > 0 {
			return replyArray(w, []interface{}{
				[]interface{}{stream, records},
			})
		}
		if blockMs <= 0 || time.Now().After(deadline) {
			return replyNil(w)
		}
		select {
		case <-s.closed:
			return io.EOF
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (s *Server) handleXAck(w *bufio.Writer, args []string) error {
	if len(args) < 4 {
		return replyError(w, "ERR wrong number of arguments for 'xack'")
	}
	s.mu.Lock()
	acked := 0
	if strm, ok := s.streams[args[1]]; ok {
		if state, ok := strm.groups[args[2]]; ok {
			for _, id := range args[3:] {
				if _, pending := state.pending[id]; pending {
					delete(state.pending, id)
					acked++
				}
			}
		}
	}
	s.mu.Unlock()
	return replyInteger(w, int64(acked))
}

// stream returns the named stream, creating it if needed. Caller holds mu.
func (s *Server) stream(name string) *stubStream {
	strm, ok := s.streams[name]
	if !ok {
		strm = &stubStream{groups: make(map[string]*consumerGroup)}
		s.streams[name] = strm
	}
	return strm
}

func (s *Server) claim(stream, group string, count int) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm := s.stream(stream)
	state, ok := strm.groups[group]
	if !ok {
		state = &consumerGroup{pending: make(map[string]struct{})}
		strm.groups[group] = state
	}
	if state.cursor >= len(strm.entries) {
		return nil
	}
	end := state.cursor + count
	if end > len(strm.entries) {
		end = len(strm.entries)
	}
	records := make([]interface{}, 0, end-state.cursor)
	for _, entry := range strm.entries[state.cursor:end] {
		state.pending[entry.id] = struct{}{}
		fields := make([]interface{}, 0, len(entry.fields)*2)
		for k, v := range entry.fields {
			fields = append(fields, k, v)
		}
		records = append(records, []interface{}{entry.id, fields})
	}
	state.cursor = end
	return records
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &counter{}
		s.counters[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil {
		entry = &counter{}
		s.counters[key] = entry
	}
	entry.expiry = time.Now().Add(ttl)
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.counters, key)
		return -2
	}
	return int64(remaining / time.Second)
}

func selfSignedCert() ([]byte, []byte, tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	return certPEM, keyPEM, cert, nil
}

func readCommand(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulk(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulk(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func replySimple(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func replyBulk(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func replyNil(w *bufio.Writer) error {
	if _, err := w.WriteString("*-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func replyInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func replyArray(w *bufio.Writer, values []interface{}) error {
	if err := writeValue(w, values); err != nil {
		return err
	}
	return w.Flush()
}

func writeValue(w *bufio.Writer, value interface{}) error {
	switch v := value.(type) {
	case string:
		_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v)
		return err
	case int64:
		_, err := fmt.Fprintf(w, ":%d\r\n", v)
		return err
	case []interface{}:
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(v)); err != nil {
			return err
		}
		for _, item := range v {
			if err := writeValue(w, item); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintf(w, "$%d\r\n%v\r\n", len(fmt.Sprint(v)), v)
		return err
	}
}

func replyError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
