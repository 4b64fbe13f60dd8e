package alerts

import (
	"context"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPMailer_StripsHeaderBreaks(t *testing.T) {
	var got []byte
	var rcpts []string
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", From: "alerts@example.com"})
	m.send = func(_ context.Context, _ string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		got, rcpts = msg, to
		return nil
	}

	err := m.Send(context.Background(), "rider@example.com\r\nBcc: x@example.net",
		"Great snow alert: Alta\r\nBcc: victim@example.net", "<p>hi</p>")
	require.NoError(t, err)

	headers, _, ok := strings.Cut(string(got), "\r\n\r\n")
	require.True(t, ok)
	for _, line := range strings.Split(headers, "\r\n") {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), "injected header line %q", line)
	}
	assert.Contains(t, headers, "Subject: Great snow alert: Alta  Bcc: victim@example.net")
	assert.Equal(t, []string{"rider@example.com  Bcc: x@example.net"}, rcpts)
}

func TestSMTPMailer_TimesOutOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	held := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			held <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-held:
			conn.Close()
		default:
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	m := NewSMTPMailer(SMTPConfig{Host: host, Port: p, From: "alerts@example.com", Timeout: 200 * time.Millisecond})

	start := time.Now()
	err = m.Send(context.Background(), "rider@example.com", "subject", "<p>hi</p>")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMTPMailer_Delivers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type delivery struct {
		from, rcpt string
		body       []byte
	}
	done := make(chan delivery, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		var d delivery
		_ = tp.PrintfLine("220 test ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			verb := strings.ToUpper(strings.Fields(line)[0])
			switch verb {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250-test\r\n250 HELP")
			case "MAIL":
				d.from = line
				_ = tp.PrintfLine("250 OK")
			case "RCPT":
				d.rcpt = line
				_ = tp.PrintfLine("250 OK")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				d.body, _ = tp.ReadDotBytes()
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				done <- d
				return
			default:
				_ = tp.PrintfLine("250 OK")
			}
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	m := NewSMTPMailer(SMTPConfig{Host: host, Port: p, From: "alerts@example.com", Timeout: 5 * time.Second})

	require.NoError(t, m.Send(context.Background(), "rider@example.com", "Good snow alert: Alta", "<p>8 inches</p>"))

	select {
	case d := <-done:
		assert.Contains(t, d.from, "<alerts@example.com>")
		assert.Contains(t, d.rcpt, "<rider@example.com>")
		assert.Contains(t, string(d.body), "Subject: Good snow alert: Alta")
		assert.Contains(t, string(d.body), "<p>8 inches</p>")
	case <-time.After(5 * time.Second):
		t.Fatal("server saw no QUIT")
	}
}
