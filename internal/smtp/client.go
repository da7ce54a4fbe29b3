// Package smtp delivers mail straight to each recipient domain's mail
// exchanger, without a smarthost or authentication.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"geogram/internal/config"
	"geogram/internal/logging"
)

// Dialer opens the TCP connection to a mail exchanger. *net.Dialer
// satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a Client. Zero values take defaults.
type Options struct {
	// Hostname is announced in EHLO/HELO; empty uses os.Hostname.
	Hostname string
	Port     int
	Timeout  time.Duration
	Resolver Resolver
	Dialer   Dialer
	Signer   *DKIMSigner
	Logger   *slog.Logger
	Now      func() time.Time
}

// OptionsFromConfig maps the smtp section of the config file. The DKIM key
// is loaded separately with LoadDKIMSigner.
func OptionsFromConfig(cfg config.SMTPConfig) Options {
	return Options{
		Hostname: cfg.Hostname,
		Port:     cfg.Port,
		Timeout:  time.Duration(cfg.TimeoutSec) * time.Second,
	}
}

// Client sends messages. It is safe for concurrent use; deliveries to the
// domains of one message run one after another.
type Client struct {
	hostname string
	port     int
	timeout  time.Duration
	resolver Resolver
	dialer   Dialer
	signer   *DKIMSigner
	log      *slog.Logger
	now      func() time.Time
	mx       *mxCache
}

// NewClient returns a client with defaults applied to opts.
func NewClient(opts Options) *Client {
	if opts.Hostname == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			opts.Hostname = h
		} else {
			opts.Hostname = "localhost"
		}
	}
	if opts.Port <= 0 {
		opts.Port = config.DefaultSMTPPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultSMTPTimeoutSec * time.Second
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		hostname: opts.Hostname,
		port:     opts.Port,
		timeout:  opts.Timeout,
		resolver: opts.Resolver,
		dialer:   opts.Dialer,
		signer:   opts.Signer,
		log:      logging.OrDefault(opts.Logger).With("component", "smtp"),
		now:      opts.Now,
		mx:       newMXCache(opts.Now),
	}
}

// DomainResult is the outcome of delivery to one recipient domain.
type DomainResult struct {
	Domain     string
	Host       string
	Recipients []string
	Err        error
}

// Result aggregates a send. Err is the first domain failure, or the
// validation error when nothing was attempted.
type Result struct {
	Success bool
	Err     error
	Elapsed time.Duration
	Domains []DomainResult
}

type domainGroup struct {
	domain     string
	recipients []string
}

// Send validates every address, builds and optionally signs the message,
// then delivers it to each recipient domain in turn. It never panics and
// reports every failure through the Result.
func (c *Client) Send(ctx context.Context, msg *Message) Result {
	start := time.Now()
	res := c.send(ctx, msg)
	res.Elapsed = time.Since(start)
	res.Success = res.Err == nil
	if res.Err != nil {
		c.log.Warn("mail delivery failed", "elapsed", res.Elapsed, "err", res.Err)
	} else {
		c.log.Info("mail delivered", "domains", len(res.Domains), "elapsed", res.Elapsed)
	}
	return res
}

func (c *Client) send(ctx context.Context, msg *Message) Result {
	from, groups, err := validate(msg)
	if err != nil {
		return Result{Err: err}
	}

	_, fromDomain, _ := ParseAddress(from)
	raw, err := msg.build(c.now(), fromDomain)
	if err != nil {
		return Result{Err: fmt.Errorf("build message: %w", err)}
	}
	if c.signer != nil {
		signed, err := c.signer.Sign(raw)
		if err != nil {
			c.log.Warn("dkim signing failed, sending unsigned", "err", err)
		} else {
			raw = signed
		}
	}

	var res Result
	for _, g := range groups {
		dr := DomainResult{Domain: g.domain, Recipients: g.recipients}
		dr.Host, dr.Err = c.ResolveMX(ctx, g.domain)
		if dr.Err == nil {
			dr.Err = c.deliver(ctx, dr.Host, g.domain, from, g.recipients, raw)
		}
		if dr.Err != nil {
			deliveriesTotal.WithLabelValues("failed").Inc()
			if res.Err == nil {
				res.Err = dr.Err
			}
		} else {
			deliveriesTotal.WithLabelValues("delivered").Inc()
		}
		res.Domains = append(res.Domains, dr)
	}
	return res
}

// validate checks every address before any connection and groups the
// recipients by domain in first-seen order.
func validate(msg *Message) (string, []domainGroup, error) {
	addrErr := &AddressError{}

	from, _, err := ParseAddress(msg.From)
	if err != nil {
		addrErr.BadSender = true
		addrErr.Sender = msg.From
	}

	var groups []domainGroup
	index := map[string]int{}
	for _, rcpt := range msg.Recipients() {
		addr, domain, err := ParseAddress(rcpt)
		if err != nil {
			addrErr.Recipients = append(addrErr.Recipients, rcpt)
			continue
		}
		i, ok := index[domain]
		if !ok {
			i = len(groups)
			index[domain] = i
			groups = append(groups, domainGroup{domain: domain})
		}
		groups[i].recipients = append(groups[i].recipients, addr)
	}

	if addrErr.BadSender || len(addrErr.Recipients) > 0 {
		return "", nil, addrErr
	}
	if len(groups) == 0 {
		return "", nil, errors.New("no recipients")
	}
	return from, groups, nil
}

// deliver runs one SMTP transaction with host for the recipients of domain.
func (c *Client) deliver(ctx context.Context, host, domain, from string, rcpts []string, raw []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	perr := func(stage string, err error) error {
		return &ProtocolError{Domain: domain, Host: host, Stage: stage, Err: err}
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(c.port)))
	if err != nil {
		return perr("connect", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	s := &session{tp: textproto.NewConn(conn), domain: domain, host: host}

	if err := s.read("greeting"); err != nil {
		return err
	}
	if err := s.cmd("EHLO", "EHLO %s", c.hostname); err != nil {
		if err := s.cmd("HELO", "HELO %s", c.hostname); err != nil {
			return err
		}
	}
	if err := s.cmd("MAIL FROM", "MAIL FROM:<%s>", from); err != nil {
		s.quit()
		return err
	}
	for _, rcpt := range rcpts {
		if err := s.cmd("RCPT TO", "RCPT TO:<%s>", rcpt); err != nil {
			s.quit()
			return err
		}
	}
	if err := s.cmd("DATA", "DATA"); err != nil {
		s.quit()
		return err
	}

	w := s.tp.DotWriter()
	if _, err := w.Write(raw); err != nil {
		return perr("message body", err)
	}
	if err := w.Close(); err != nil {
		return perr("message body", err)
	}
	if err := s.read("end of data"); err != nil {
		return err
	}

	s.quit()
	c.log.Debug("message accepted", "domain", domain, "host", host, "recipients", len(rcpts))
	return nil
}

// session is one SMTP dialogue. Every reply outside 2xx/3xx is an error.
type session struct {
	tp     *textproto.Conn
	domain string
	host   string
}

func (s *session) cmd(stage, format string, args ...any) error {
	id, err := s.tp.Cmd(format, args...)
	if err != nil {
		return &ProtocolError{Domain: s.domain, Host: s.host, Stage: stage, Err: err}
	}
	s.tp.StartResponse(id)
	defer s.tp.EndResponse(id)
	return s.read(stage)
}

func (s *session) read(stage string) error {
	code, msg, err := s.tp.ReadResponse(0)
	if err != nil {
		return &ProtocolError{Domain: s.domain, Host: s.host, Stage: stage, Err: err}
	}
	if class := code / 100; class != 2 && class != 3 {
		return &ProtocolError{Domain: s.domain, Host: s.host, Stage: stage, Code: code, Msg: strings.TrimSpace(msg)}
	}
	return nil
}

// quit ends the session politely. Its reply does not affect the outcome.
func (s *session) quit() {
	_ = s.cmd("QUIT", "QUIT")
}
