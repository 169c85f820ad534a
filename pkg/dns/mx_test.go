package dns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newServer(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		switch r.Question[0].Name {
		case "mail.test.":
			rr, _ := dns.NewRR("mail.test. 300 IN MX 10 mx1.mail.test.")
			m.Answer = append(m.Answer, rr)
		case "nullmx.test.":
			rr, _ := dns.NewRR("nullmx.test. 300 IN MX 0 .")
			m.Answer = append(m.Answer, rr)
		default:
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestCheckEmailDomain(t *testing.T) {
	addr := newServer(t)
	r := &Resolver{servers: []string{addr}, client: &dns.Client{Timeout: 2 * time.Second}}
	ctx := context.Background()

	require.NoError(t, r.CheckEmailDomain(ctx, "mail.test"))
	require.ErrorIs(t, r.CheckEmailDomain(ctx, "nullmx.test"), ErrNoMailExchanger)
	require.ErrorIs(t, r.CheckEmailDomain(ctx, "missing.test"), ErrNoMailExchanger)
	require.ErrorIs(t, r.CheckEmailDomain(ctx, " "), ErrNoMailExchanger)
}

func TestCheckEmailDomainFallsBackToSystem(t *testing.T) {
	calls := 0
	r := &Resolver{
		servers: []string{"127.0.0.1:1"},
		client:  &dns.Client{Timeout: 200 * time.Millisecond},
		system: func(context.Context, string) ([]*net.MX, error) {
			calls++
			return []*net.MX{{Host: "mx.example.com.", Pref: 10}}, nil
		},
	}
	require.NoError(t, r.CheckEmailDomain(context.Background(), "example.com"))
	require.Equal(t, 1, calls)

	r.system = func(context.Context, string) ([]*net.MX, error) {
		return nil, errors.New("resolver down")
	}
	err := r.CheckEmailDomain(context.Background(), "example.com")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNoMailExchanger))
}
