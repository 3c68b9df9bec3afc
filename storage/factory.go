package storage

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/guardian-recovery/interfaces"
)

// StorageBackendFactory creates storage backends from location URIs and
// manages multi-backend configurations for redundant backup storage.
type StorageBackendFactory struct {
	log       *slog.Logger
	tlsAuth   func() (tls.Certificate, error)
	minWrites int
}

// NewStorageBackendFactory creates a new factory instance. minWrites is the
// number of backends a multi-backend Store must reach; values below one mean one.
func NewStorageBackendFactory(logger *slog.Logger, minWrites int) *StorageBackendFactory {
	return &StorageBackendFactory{
		log:       logger,
		minWrites: minWrites,
	}
}

// WithTLSAuth returns a copy of the factory that authenticates to Vault with
// the certificate returned by getCert when the URI carries no token.
func (sf *StorageBackendFactory) WithTLSAuth(getCert func() (tls.Certificate, error)) interfaces.StorageBackendFactory {
	clone := *sf
	clone.tlsAuth = getCert
	return &clone
}

// StorageBackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - file:///var/lib/guardian-recovery/backups
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=minio:9000&path_style=true
//   - ipfs://host:5001/root?timeout=30s
//   - vault://[token@]vault.example.com:8200/mount/path?tls=false
func (sf *StorageBackendFactory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("creating storage backend", "scheme", location.Scheme, "host", location.Host)

	switch location.Scheme {
	case "file":
		return sf.createFileBackend(location)
	case "s3":
		return sf.createS3Backend(location)
	case "ipfs":
		return sf.createIPFSBackend(location)
	case "vault":
		return sf.createVaultBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend aggregates every location that yields a backend. Locations
// that fail to construct are logged and skipped.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := sf.StorageBackendFor(location)
		if err != nil {
			sf.log.Warn("failed to create storage backend", "err", err, "scheme", location.Scheme, "host", location.Host)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewReplicatedStorageBackend(backends, sf.minWrites, sf.log), nil
}

func (sf *StorageBackendFactory) createFileBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	path := location.Path
	if location.Host != "" {
		// file://./relative/dir
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}
	return NewFileBackend(path, sf.log)
}

func (sf *StorageBackendFactory) createS3Backend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	opts := S3Options{
		Bucket:         location.Host,
		Prefix:         strings.Trim(location.Path, "/"),
		Region:         location.GetParam("region"),
		Endpoint:       location.GetParam("endpoint"),
		ForcePathStyle: location.GetParamBool("path_style"),
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	if location.Auth != "" {
		accessKey, secretKey, _ := strings.Cut(location.Auth, ":")
		opts.AccessKey = accessKey
		opts.SecretKey = secretKey
		sf.log.Debug("using embedded S3 credentials")
	} else {
		sf.log.Debug("no S3 credentials in URI, using the default credential chain")
	}

	return NewS3Backend(opts, sf.log)
}

func (sf *StorageBackendFactory) createIPFSBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	host, port := splitHostPort(location.Host)

	timeout := 30 * time.Second
	if raw := location.GetParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ipfs timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = parsed
	}

	return NewIPFSBackend(host, port, location.Path, timeout, sf.log)
}

// createVaultBackend maps vault://[token@]host:port/<mount>/<path>. The
// client speaks https unless tls=false.
func (sf *StorageBackendFactory) createVaultBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	parts := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	mount := parts[0]
	if mount == "" {
		mount = "secret"
	}
	dataPath := "guardian-recovery"
	if len(parts) == 2 && parts[1] != "" {
		dataPath = parts[1]
	}

	scheme := "https"
	if raw := location.GetParam("tls"); raw != "" {
		if useTLS, err := strconv.ParseBool(raw); err == nil && !useTLS {
			scheme = "http"
		}
	}

	opts := VaultOptions{
		Address:   scheme + "://" + location.Host,
		MountPath: mount,
		DataPath:  dataPath,
		Token:     location.Auth,
	}
	if opts.Token == "" {
		if sf.tlsAuth == nil {
			return nil, fmt.Errorf("vault backend %s needs a token or TLS client authentication", location.Host)
		}
		cert, err := sf.tlsAuth()
		if err != nil {
			return nil, fmt.Errorf("failed to load vault client certificate: %w", err)
		}
		opts.ClientCert = &cert
	}

	return NewVaultBackend(opts, sf.log)
}

func splitHostPort(hostport string) (string, string) {
	host, port, found := strings.Cut(hostport, ":")
	if !found {
		return hostport, ""
	}
	return host, port
}
