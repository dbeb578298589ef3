package alerts

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// deadline bounds one connect + send attempt.
func deadline(d *Dispatcher) time.Time {
	return time.Now().Add(d.cfg.Timeout)
}

// smtpSend performs one delivery attempt. STARTTLS is tried first;
// when the server refuses the upgrade the connection is redone over
// implicit TLS.
func (d *Dispatcher) smtpSend(a *Alert) error {
	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)

	client, err := d.connectStartTLS(addr)
	if err != nil {
		client, err = d.connectImplicitTLS(addr)
		if err != nil {
			return err
		}
	}
	defer client.Close()

	if d.cfg.User != "" {
		auth := smtp.PlainAuth("", d.cfg.User, d.cfg.Password, d.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(d.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(a.Recipient); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg := strings.Join([]string{
		"From: " + d.cfg.From,
		"To: " + a.Recipient,
		"Subject: " + a.Subject(),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		a.Body(),
	}, "\r\n")
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func (d *Dispatcher) connectStartTLS(addr string) (*smtp.Client, error) {
	conn, err := net.DialTimeout("tcp", addr, d.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("smtp dial: %w", err)
	}
	conn.SetDeadline(deadline(d))

	client, err := smtp.NewClient(conn, d.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	if err := client.StartTLS(&tls.Config{ServerName: d.cfg.Host}); err != nil {
		client.Close()
		return nil, fmt.Errorf("starttls: %w", err)
	}
	return client, nil
}

func (d *Dispatcher) connectImplicitTLS(addr string) (*smtp.Client, error) {
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: d.cfg.Timeout}, "tcp", addr, &tls.Config{ServerName: d.cfg.Host})
	if err != nil {
		return nil, fmt.Errorf("smtps dial: %w", err)
	}
	conn.SetDeadline(deadline(d))

	client, err := smtp.NewClient(conn, d.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtps handshake: %w", err)
	}
	return client, nil
}
