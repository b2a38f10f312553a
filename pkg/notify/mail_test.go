package notify

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smtpSink is a minimal SMTP server that accepts every command and records
// each DATA payload.
type smtpSink struct {
	ln   net.Listener
	msgs chan string
}

func newSMTPSink(t *testing.T) *smtpSink {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &smtpSink{ln: ln, msgs: make(chan string, 4)}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *smtpSink) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpSink) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *smtpSink) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 sink ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "DATA"):
			reply("354 go ahead")
			var data strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				data.WriteString(l)
			}
			s.msgs <- data.String()
			reply("250 queued")
		case strings.HasPrefix(cmd, "QUIT"):
			reply("221 bye")
			return
		default:
			reply("250 ok")
		}
	}
}

func TestNewMailNotifierRequiresHostAndSender(t *testing.T) {
	_, err := NewMailNotifier(MailConfig{Host: "smtp.example"}, "", nil)
	assert.Error(t, err)
	_, err = NewMailNotifier(MailConfig{Host: "smtp.example", Sender: "a@example.com", TLSPolicy: "sometimes"}, "", nil)
	assert.ErrorContains(t, err, "unknown TLS policy")
}

func TestRenderEscapesMessage(t *testing.T) {
	n, err := NewMailNotifier(MailConfig{Host: "smtp.example", Sender: "registry@example.com"}, "", nil)
	require.NoError(t, err)

	html, err := n.Render("Indexing failed", "<script>alert(1)</script>")
	require.NoError(t, err)
	assert.Contains(t, html, "&lt;script&gt;alert(1)&lt;/script&gt;")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "<title>Indexing failed</title>")
}

func TestRenderCustomTemplate(t *testing.T) {
	n, err := NewMailNotifier(MailConfig{Host: "smtp.example", Sender: "registry@example.com"}, "<p>{{.Message}}</p>", nil)
	require.NoError(t, err)
	html, err := n.Render("s", "hello")
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", html)
}

func TestMailNotifierDelivers(t *testing.T) {
	sink := newSMTPSink(t)
	n, err := NewMailNotifier(MailConfig{
		Host:      "127.0.0.1",
		Port:      sink.port(),
		Sender:    "registry@example.com",
		TLSPolicy: "none",
	}, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, n.Notify(ctx, "dev@example.com", "Indexing started", "<b>demo</b> is queued"))

	select {
	case data := <-sink.msgs:
		assert.Contains(t, data, "Subject: Indexing started")
		assert.Contains(t, data, "dev@example.com")
		assert.Contains(t, data, "&lt;b&gt;demo&lt;/b&gt;")
	case <-ctx.Done():
		t.Fatal("no message delivered")
	}
}

func TestMailNotifierRejectsBadRecipient(t *testing.T) {
	n, err := NewMailNotifier(MailConfig{Host: "127.0.0.1", Sender: "registry@example.com", TLSPolicy: "none"}, "", nil)
	require.NoError(t, err)
	err = n.Notify(context.Background(), "not an address", "s", "b")
	assert.ErrorContains(t, err, "invalid recipient")
}

func TestLogNotifierAndFunc(t *testing.T) {
	require.NoError(t, NewLogNotifier(nil).Notify(context.Background(), "a@example.com", "s", "b"))

	var got string
	f := Func(func(_ context.Context, address, subject, body string) error {
		got = address + "|" + subject + "|" + body
		return nil
	})
	require.NoError(t, f.Notify(context.Background(), "a", "b", "c"))
	assert.Equal(t, "a|b|c", got)
}
