package namespace

import "fmt"

// ClientSharingOption selects which connections a log handle reuses from the
// namespace. The variant set is closed: handle construction switches over it
// exhaustively and rejects unknown values.
type ClientSharingOption int

const (
	// SharedClients reuses every namespace-level connection and the
	// namespace's ledger allocator.
	SharedClients ClientSharingOption = iota

	// SharedMetadataPerStreamStorageClient reuses the metadata connections
	// but routes storage-side metadata traffic through a dedicated
	// connection pair, built lazily once per namespace and shared by all
	// handles using this option. No ledger allocator is attached.
	SharedMetadataPerStreamStorageClient
)

func (o ClientSharingOption) String() string {
	switch o {
	case SharedClients:
		return "SharedClients"
	case SharedMetadataPerStreamStorageClient:
		return "SharedMetadataPerStreamStorageClient"
	default:
		return fmt.Sprintf("ClientSharingOption(%d)", int(o))
	}
}

func (o ClientSharingOption) valid() bool {
	switch o {
	case SharedClients, SharedMetadataPerStreamStorageClient:
		return true
	default:
		return false
	}
}
