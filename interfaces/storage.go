package interfaces

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ContentID is the SHA-256 of a stored blob. Backup backends are content
// addressed, so the id doubles as an integrity check on fetch.
type ContentID [32]byte

// ComputeID returns the content id of data.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// ParseContentID accepts the 64 character hex form, with or without 0x.
func ParseContentID(s string) (ContentID, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid content id: %w", err)
	}
	if len(raw) != len(ContentID{}) {
		return ContentID{}, fmt.Errorf("invalid content id: %d bytes", len(raw))
	}
	return ContentID(raw), nil
}

func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// ContentType selects the namespace a blob is stored under.
type ContentType int

const (
	BackupEnvelopeType ContentType = iota
	AuditExportType
)

// String is also the directory or key prefix backends store the type under.
func (ct ContentType) String() string {
	switch ct {
	case BackupEnvelopeType:
		return "backup"
	case AuditExportType:
		return "audit"
	default:
		return "unknown"
	}
}

// BackupRef is where a keyspace-backup envelope was written. Its string form,
// "<backend uri>#<content id>", is what the share ledger records.
type BackupRef struct {
	Backend string
	ID      ContentID
}

func (r BackupRef) String() string {
	return r.Backend + "#" + r.ID.String()
}

// ParseBackupRef reverses BackupRef.String.
func ParseBackupRef(s string) (BackupRef, error) {
	i := strings.LastIndexByte(s, '#')
	if i < 0 {
		return BackupRef{}, fmt.Errorf("%w: backup location %q has no content id", ErrInvalidLocationURI, s)
	}
	id, err := ParseContentID(s[i+1:])
	if err != nil {
		return BackupRef{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}
	return BackupRef{Backend: s[:i], ID: id}, nil
}

// StorageBackendLocation is a parsed backup location URI:
//
//	file:///var/lib/recovery
//	s3://ak:sk@bucket/prefix?region=eu-west-1&endpoint=...&path_style=true
//	ipfs://localhost:5001?timeout=30s
//	vault://token@vault.internal:8200/secret/guardian-recovery?tls=true
type StorageBackendLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values
	// Auth is the userinfo part, used as credentials by s3 and vault.
	Auth string
}

func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "s3", "ipfs", "vault":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	loc := StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
	}
	if parsed.User != nil {
		loc.Auth = parsed.User.String()
	}
	return loc, nil
}

func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

func (loc StorageBackendLocation) GetParamBool(name string) bool {
	switch loc.Query.Get(name) {
	case "true", "1", "yes":
		return true
	}
	return false
}

var (
	ErrContentNotFound    = errors.New("content not found")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend is a content-addressed blob store holding backup envelopes
// and audit exports.
type StorageBackend interface {
	// Fetch returns ErrContentNotFound when nothing is stored under id.
	Fetch(ctx context.Context, id ContentID, contentType ContentType) ([]byte, error)

	// Store is idempotent: identical data yields the same id.
	Store(ctx context.Context, data []byte, contentType ContentType) (ContentID, error)

	Available(ctx context.Context) bool
	Name() string
	LocationURI() string
}

// StorageBackendFactory turns backup location URIs into backends.
type StorageBackendFactory interface {
	StorageBackendFor(location StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend replicates writes across every usable location.
	CreateMultiBackend(locations []StorageBackendLocation) (StorageBackend, error)

	// WithTLSAuth returns a factory whose vault backends authenticate with the
	// client certificate when no token is given.
	WithTLSAuth(func() (tls.Certificate, error)) StorageBackendFactory
}
