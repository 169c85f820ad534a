// Package dns checks that an email domain can receive mail before an account
// is registered against it.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"promohive/pkg/config"
	"promohive/pkg/logger"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

var ErrNoMailExchanger = errors.New("domain has no mail exchanger")

var defaultResolvers = []string{"1.1.1.1:53", "8.8.8.8:53"}

type Resolver struct {
	servers []string
	client  *dns.Client
	// system is consulted when no server answers.
	system func(ctx context.Context, name string) ([]*net.MX, error)
}

func NewResolver(cfg *config.Config) *Resolver {
	servers := cfg.Registration.Resolvers
	if len(servers) == 0 {
		servers = defaultResolvers
	}
	return &Resolver{
		servers: servers,
		client:  &dns.Client{Timeout: 3 * time.Second},
		system:  net.DefaultResolver.LookupMX,
	}
}

// CheckEmailDomain returns ErrNoMailExchanger when a resolver answers that
// domain has no MX record. Any other error means no resolver could be reached.
func (r *Resolver) CheckEmailDomain(ctx context.Context, domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ErrNoMailExchanger
	}
	host := dns.Fqdn(domain)
	zapLog := logger.FromContext(ctx).With(zap.String("domain", domain))

	for _, server := range r.servers {
		found, err := r.exchange(ctx, host, server)
		if err != nil {
			zapLog.Debug("mx query failed", zap.String("resolver", server), zap.Error(err))
			continue
		}
		if !found {
			return ErrNoMailExchanger
		}
		return nil
	}

	if r.system == nil {
		return fmt.Errorf("no resolver reachable for %s", domain)
	}
	zapLog.Warn("falling back to system resolver")
	records, err := r.system(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return ErrNoMailExchanger
		}
		return fmt.Errorf("system resolver mx lookup failed: %w", err)
	}
	if len(records) == 0 {
		return ErrNoMailExchanger
	}
	return nil
}

func (r *Resolver) exchange(ctx context.Context, host, server string) (bool, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(host, dns.TypeMX)

	resp, _, err := r.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return false, err
	}
	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
	default:
		return false, fmt.Errorf("resolver %s answered %s", server, dns.RcodeToString[resp.Rcode])
	}

	for _, ans := range resp.Answer {
		if mx, ok := ans.(*dns.MX); ok && mx.Mx != "." {
			return true, nil
		}
	}
	return false, nil
}
