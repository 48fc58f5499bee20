package media

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrFetchRefused is returned when an attachment URL points somewhere the
// server must not download from.
var ErrFetchRefused = errors.New("attachment url refused")

const maxFetchRedirects = 5

// sharedAddressSpace is the carrier-grade NAT range, not covered by
// netip.Addr.IsPrivate.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// fetchPolicy decides which attachment URLs may be downloaded.
type fetchPolicy struct {
	allowedHosts []string
	allowPrivate bool
}

func newFetchPolicy(hosts []string, allowPrivate bool) fetchPolicy {
	policy := fetchPolicy{allowPrivate: allowPrivate}
	for _, host := range hosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			policy.allowedHosts = append(policy.allowedHosts, host)
		}
	}
	return policy
}

// check validates scheme and host before any connection is made. Hostnames
// that resolve to internal addresses are caught again at dial time.
func (p fetchPolicy) check(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchRefused, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrFetchRefused, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrFetchRefused)
	}
	if len(p.allowedHosts) > 0 && !p.hostAllowed(host) {
		return nil, fmt.Errorf("%w: host %s not allowed", ErrFetchRefused, host)
	}
	if p.allowPrivate {
		return u, nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, fmt.Errorf("%w: host %s", ErrFetchRefused, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && internalAddr(addr) {
		return nil, fmt.Errorf("%w: address %s", ErrFetchRefused, addr)
	}
	return u, nil
}

func (p fetchPolicy) hostAllowed(host string) bool {
	for _, allowed := range p.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func internalAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		sharedAddressSpace.Contains(addr)
}

// refuseInternal is a net.Dialer Control hook that blocks connections to
// internal addresses after DNS resolution.
func refuseInternal(_, address string, _ syscall.RawConn) error {
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchRefused, err)
	}
	if internalAddr(addrPort.Addr()) {
		return fmt.Errorf("%w: address %s", ErrFetchRefused, addrPort.Addr())
	}
	return nil
}

// newFetchClient builds the client used for attachment downloads. Redirects
// go through the same policy as the first request.
func newFetchClient(policy fetchPolicy, base *http.Client) *http.Client {
	client := &http.Client{}
	if policy.allowPrivate && base != nil {
		*client = *base
	} else if !policy.allowPrivate {
		dialer := &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   refuseInternal,
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		transport.DialContext = dialer.DialContext
		client.Transport = transport
	}

	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxFetchRedirects {
			return fmt.Errorf("%w: too many redirects", ErrFetchRefused)
		}
		_, err := policy.check(req.URL.String())
		return err
	}
	return client
}
