// Package namespace implements the namespace-level resource orchestrator for
// dlog: it resolves which ensembles back a namespace, owns the shared
// connections and scheduler pools every log handle draws from, integrates the
// ledger allocator pool, and drives one-time ordered shutdown.
package namespace

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/c360/dlog/config"
	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/logmeta"
)

// Scheme is the URI scheme identifying a dlog namespace location, e.g.
// dlog://host1:4222,host2:4222/messaging/orders.
const Scheme = "dlog"

// ValidateConfAndURI fails fast on a missing or malformed configuration or
// namespace location, before any connection is opened.
func ValidateConfAndURI(conf *config.NamespaceConfig, uri *url.URL) error {
	if conf == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Namespace", "Validate", "check configuration")
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	return ValidateURI(uri)
}

// ValidateURI checks the structural constraints on a namespace location.
func ValidateURI(uri *url.URL) error {
	if uri == nil {
		return errors.WrapInvalid(errors.ErrInvalidURI, "Namespace", "Validate", "check nil location")
	}
	if uri.Scheme != Scheme {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown scheme %q", errors.ErrInvalidURI, uri.Scheme),
			"Namespace", "Validate", "check scheme")
	}
	if uri.Host == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: missing ensemble authority", errors.ErrInvalidURI),
			"Namespace", "Validate", "check authority")
	}
	if uri.Path == "" || uri.Path == "/" || !strings.HasPrefix(uri.Path, "/") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: missing namespace path %q", errors.ErrInvalidURI, uri.Path),
			"Namespace", "Validate", "check path")
	}
	return nil
}

// EnsembleFromURI extracts the metadata ensemble seed addresses from the
// location authority, one address per comma-separated host.
func EnsembleFromURI(uri *url.URL) []string {
	hosts := strings.Split(uri.Host, ",")
	ensemble := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		ensemble = append(ensemble, "nats://"+h)
	}
	return ensemble
}

// ValidateName checks a log stream name: non-empty, no path separators, no
// whitespace or control characters, and not reserved for internal use.
func ValidateName(name string) error {
	if name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: empty name", errors.ErrInvalidStreamName),
			"Namespace", "ValidateName", "check name")
	}
	if logmeta.IsReservedName(name) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q is reserved", errors.ErrInvalidStreamName, name),
			"Namespace", "ValidateName", "check name")
	}
	for _, r := range name {
		if r == '/' || r == ' ' || r < 0x20 || r == 0x7f {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %q contains invalid character %q", errors.ErrInvalidStreamName, name, r),
				"Namespace", "ValidateName", "check name")
		}
	}
	return nil
}
