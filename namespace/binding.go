package namespace

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/c360/dlog/config"
	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/metaclient"
)

// BindingNode is the reserved node under the namespace path holding the
// resolved binding.
const BindingNode = ".binding"

// Binding is the authoritative record of which ensembles serve a namespace.
// Reader-side ensembles left empty alias the writer side. Immutable once
// resolved.
type Binding struct {
	MetadataEnsemble       []string `json:"metadata_ensemble,omitempty"`
	ReaderMetadataEnsemble []string `json:"reader_metadata_ensemble,omitempty"`
	StorageEnsemble        []string `json:"storage_ensemble"`
	ReaderStorageEnsemble  []string `json:"reader_storage_ensemble,omitempty"`

	// LedgerRootPath is where storage segments are rooted. Defaults to the
	// reserved ".ledgers" sub-tree of the namespace path.
	LedgerRootPath string `json:"ledger_root_path,omitempty"`

	// ACLRootPath, when set, names the reserved sub-tree holding access
	// control entries.
	ACLRootPath string `json:"acl_root_path,omitempty"`

	Federated bool `json:"federated,omitempty"`
}

func bindingPath(uri *url.URL) string {
	return strings.TrimSuffix(uri.Path, "/") + "/" + BindingNode
}

// ResolveBinding reads the namespace binding through an open metadata
// connection and fills defaults. A namespace without a binding node fails
// with errors.ErrBindingNotFound.
func ResolveBinding(ctx context.Context, client *metaclient.Client, uri *url.URL) (*Binding, error) {
	raw, err := client.Get(ctx, bindingPath(uri))
	if err != nil {
		if metaclient.IsNotFound(err) {
			return nil, errors.Wrap(errors.ErrBindingNotFound, "Namespace", "ResolveBinding", "read binding for "+uri.Path)
		}
		return nil, err
	}

	var b Binding
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errors.WrapFatal(errors.ErrMetadataCorrupt, "Namespace", "ResolveBinding", "decode binding for "+uri.Path)
	}
	b.applyDefaults(uri)
	if len(b.StorageEnsemble) == 0 {
		return nil, errors.WrapFatal(errors.ErrMetadataCorrupt, "Namespace", "ResolveBinding", "binding missing storage ensemble")
	}
	return &b, nil
}

func (b *Binding) applyDefaults(uri *url.URL) {
	if len(b.MetadataEnsemble) == 0 {
		b.MetadataEnsemble = EnsembleFromURI(uri)
	}
	if len(b.ReaderMetadataEnsemble) == 0 {
		b.ReaderMetadataEnsemble = b.MetadataEnsemble
	}
	if len(b.ReaderStorageEnsemble) == 0 {
		b.ReaderStorageEnsemble = b.StorageEnsemble
	}
	if b.LedgerRootPath == "" {
		b.LedgerRootPath = strings.TrimSuffix(uri.Path, "/") + "/.ledgers"
	}
}

// Propagate copies the binding's downstream-consumed fields into the
// configuration so log handles see them without holding the binding itself.
func (b *Binding) Propagate(conf *config.NamespaceConfig) {
	conf.LedgerRootPath = b.LedgerRootPath
	conf.ACLRootPath = b.ACLRootPath
	conf.Federated = b.Federated || conf.FederatedNamespaceEnabled
}

// StoreBinding writes the binding node for a namespace, creating the
// namespace root as a side effect. Used by provisioning tooling; an existing
// binding is overwritten.
func StoreBinding(ctx context.Context, client *metaclient.Client, uri *url.URL, b *Binding) error {
	if err := ValidateURI(uri); err != nil {
		return err
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return errors.Wrap(err, "Namespace", "StoreBinding", "encode binding")
	}
	return client.Put(ctx, bindingPath(uri), raw)
}
