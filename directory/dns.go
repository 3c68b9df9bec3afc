package directory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/ruteri/guardian-recovery/interfaces"
)

// TXT record format: "v=grk1; k=<base64 X25519 public key>"
const recordVersion = "grk1"

// DefaultResolver is the local stub resolver, as on systemd hosts.
const DefaultResolver = "127.0.0.53:53"

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ErrInvalidRecord is returned for TXT records that do not carry a guardian key.
var ErrInvalidRecord = errors.New("invalid guardian key record")

// DNSDirectory resolves guardian keys published as TXT records at
// <guardian>._recovery.<zone>.
type DNSDirectory struct {
	zone     string
	resolver string
	client   *dns.Client
	log      *slog.Logger
}

func NewDNSDirectory(zone, resolver string, log *slog.Logger) *DNSDirectory {
	if resolver == "" {
		resolver = DefaultResolver
	}
	return &DNSDirectory{
		zone:     dns.Fqdn(zone),
		resolver: resolver,
		client:   &dns.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

// RecordName returns the owner name of a guardian's key record.
func (d *DNSDirectory) RecordName(guardianID interfaces.GuardianID) (string, error) {
	label := strings.ToLower(guardianID)
	if !labelPattern.MatchString(label) {
		return "", fmt.Errorf("guardian id %q is not a valid DNS label", guardianID)
	}
	return label + "._recovery." + d.zone, nil
}

func (d *DNSDirectory) PublicKeyOf(ctx context.Context, guardianID interfaces.GuardianID) ([]byte, error) {
	name, err := d.RecordName(guardianID)
	if err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeTXT)
	m.RecursionDesired = true

	in, _, err := d.client.ExchangeContext(ctx, m, d.resolver)
	if err != nil {
		d.log.Warn("Guardian key lookup failed",
			slog.String("name", name),
			"err", err)
		return nil, fmt.Errorf("dns lookup %s: %w", name, err)
	}
	if in.Rcode == dns.RcodeNameError {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownGuardianKey, guardianID)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns lookup %s: %s", name, dns.RcodeToString[in.Rcode])
	}

	for _, answer := range in.Answer {
		txt, ok := answer.(*dns.TXT)
		if !ok {
			continue
		}
		key, err := ParseRecord(strings.Join(txt.Txt, ""))
		if err != nil {
			d.log.Debug("Skipping TXT record", slog.String("name", name), "err", err)
			continue
		}
		return key, nil
	}

	return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownGuardianKey, guardianID)
}

// FormatRecord renders the TXT record value publishing publicKey.
func FormatRecord(publicKey []byte) string {
	return "v=" + recordVersion + "; k=" + base64.StdEncoding.EncodeToString(publicKey)
}

// ParseRecord extracts the public key from a TXT record value.
func ParseRecord(value string) ([]byte, error) {
	var version, encoded string
	for _, field := range strings.Split(value, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "v":
			version = strings.TrimSpace(v)
		case "k":
			encoded = strings.TrimSpace(v)
		}
	}

	if version != recordVersion {
		return nil, fmt.Errorf("%w: version %q", ErrInvalidRecord, version)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("%w: bad key", ErrInvalidRecord)
	}
	return key, nil
}
