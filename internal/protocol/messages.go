// Package protocol defines the wire messages edges exchange over the
// transport layer: directory lookups/updates, admit/evict notifications,
// write-lock acquisition and release, invalidation, metadata updates,
// finish-block, and placement notification (spec.md §4.6). Rather than the
// deep per-message virtual class hierarchy layered transports in this
// family tend to grow, every message here is a plain struct and the wire
// format is a single tagged sum: a type byte followed by a fixed layout
// for that type. Adding a message means adding one case to Encode/Decode,
// not a new interface implementation scattered across a class tree.
package protocol

import "github.com/dreamware/covered/internal/keyspace"

// MessageType tags the payload that follows a Header on the wire.
type MessageType uint8

const (
	TypeUnknown MessageType = iota

	TypeLocalGetRequest
	TypeLocalGetResponse
	TypeLocalPutRequest
	TypeLocalPutResponse
	TypeLocalDelRequest
	TypeLocalDelResponse

	TypeDirectoryLookupRequest
	TypeDirectoryLookupResponse
	TypeDirectoryUpdateRequest
	TypeDirectoryUpdateResponse
	TypeDirectoryAdmitRequest
	TypeDirectoryAdmitResponse
	TypeDirectoryEvictRequest
	TypeDirectoryEvictResponse

	TypeAcquireWritelockRequest
	TypeAcquireWritelockResponse
	TypeReleaseWritelockRequest
	TypeReleaseWritelockResponse

	TypeInvalidationRequest
	TypeInvalidationResponse
	TypeMetadataUpdateRequest
	TypeMetadataUpdateResponse
	TypeFinishBlockRequest
	TypeFinishBlockResponse

	TypePlacementNotifyRequest
	TypePlacementNotifyResponse
)

// HitKind classifies how a local GET/PUT/DEL was satisfied, carried back
// to the client-facing caller for metrics (spec.md §4.2).
type HitKind uint8

const (
	HitLocal HitKind = iota
	HitCooperative
	HitCooperativeInvalid
	HitGlobalMiss
)

// Event is a single simulation/tracing event threaded through the header's
// EventList (spec.md §4.6). COVERED edges don't interpret event contents;
// they're opaque bookkeeping forwarded between cooperating nodes.
type Event struct {
	Code uint8
	At   uint64 // unix nanoseconds
}

// NetAddr is a dialable peer address.
type NetAddr struct {
	Host string
	Port uint16
}

// Header is embedded in every message. RequestID is an addition beyond
// spec.md §4.6's listed fields: it lets the transport layer correlate
// replies on a connection that pipelines multiple in-flight requests
// (see SPEC_FULL.md §5.9), and every message still carries it even for
// message kinds that are conceptually fire-and-forget.
type Header struct {
	SourceIndex            keyspace.EdgeIndex
	SourceAddr             NetAddr
	RequestID              uint64
	BandwidthUsage         uint64
	EventList              []Event
	SkipPropagationLatency bool
}

// CollectedPopularity is the wire shape of popularity.CollectedPopularity.
type CollectedPopularity struct {
	IsTracked               bool
	LocalUncachedPopularity float64
}

// VictimEntry is the wire shape of one victim.Cacheinfo.
type VictimEntry struct {
	Key       []byte
	Reward    float64
	LastVTime uint64
	SizeBytes uint32
}

// DirectoryInfo is the wire shape of directory.DirectoryInfo.
type DirectoryInfo struct {
	OwnerEdge keyspace.EdgeIndex
}

// Message is implemented by every request/response payload. Type reports
// the tag Encode writes; the zero value of every message type is a valid,
// encodable value.
type Message interface {
	Type() MessageType
}

// --- Local client-facing messages (spec.md §4.2) ---

type LocalGetRequest struct {
	Header Header
	Key    []byte
}

func (LocalGetRequest) Type() MessageType { return TypeLocalGetRequest }

type LocalGetResponse struct {
	Header Header
	Hit    HitKind
	Found  bool
	Value  []byte
}

func (LocalGetResponse) Type() MessageType { return TypeLocalGetResponse }

type LocalPutRequest struct {
	Header Header
	Key    []byte
	Value  []byte
}

func (LocalPutRequest) Type() MessageType { return TypeLocalPutRequest }

type LocalPutResponse struct {
	Header Header
	Hit    HitKind
}

func (LocalPutResponse) Type() MessageType { return TypeLocalPutResponse }

type LocalDelRequest struct {
	Header Header
	Key    []byte
}

func (LocalDelRequest) Type() MessageType { return TypeLocalDelRequest }

type LocalDelResponse struct {
	Header Header
	Hit    HitKind
}

func (LocalDelResponse) Type() MessageType { return TypeLocalDelResponse }

// --- Directory protocol (spec.md §4.4.1, §4.6) ---

type DirectoryLookupRequest struct {
	Header     Header
	Key        []byte
	Collected  CollectedPopularity
	HasCollect bool
	Syncset    []VictimEntry
}

func (DirectoryLookupRequest) Type() MessageType { return TypeDirectoryLookupRequest }

type DirectoryLookupResponse struct {
	Header         Header
	IsBeingWritten bool
	Valid          bool
	Info           DirectoryInfo
	Syncset        []VictimEntry
}

func (DirectoryLookupResponse) Type() MessageType { return TypeDirectoryLookupResponse }

type DirectoryUpdateRequest struct {
	Header  Header
	Key     []byte
	Valid   bool
	Info    DirectoryInfo
	Syncset []VictimEntry
}

func (DirectoryUpdateRequest) Type() MessageType { return TypeDirectoryUpdateRequest }

type DirectoryUpdateResponse struct {
	Header         Header
	IsBeingWritten bool
	Syncset        []VictimEntry
}

func (DirectoryUpdateResponse) Type() MessageType { return TypeDirectoryUpdateResponse }

type DirectoryAdmitRequest struct {
	Header     Header
	Key        []byte
	Collected  CollectedPopularity
	HasCollect bool
	Syncset    []VictimEntry
}

func (DirectoryAdmitRequest) Type() MessageType { return TypeDirectoryAdmitRequest }

type DirectoryAdmitResponse struct {
	Header           Header
	IsBeingWritten   bool
	IsNeighborCached bool
	EdgesetToNotify  []keyspace.EdgeIndex
	Syncset          []VictimEntry
}

func (DirectoryAdmitResponse) Type() MessageType { return TypeDirectoryAdmitResponse }

type DirectoryEvictRequest struct {
	Header  Header
	Key     []byte
	Syncset []VictimEntry
}

func (DirectoryEvictRequest) Type() MessageType { return TypeDirectoryEvictRequest }

type DirectoryEvictResponse struct {
	Header          Header
	IsBeingWritten  bool
	EdgesetToNotify []keyspace.EdgeIndex
	Syncset         []VictimEntry
}

func (DirectoryEvictResponse) Type() MessageType { return TypeDirectoryEvictResponse }

// --- Write-lock protocol (spec.md §4.4.1) ---

type AcquireWritelockRequest struct {
	Header Header
	Key    []byte
}

func (AcquireWritelockRequest) Type() MessageType { return TypeAcquireWritelockRequest }

type AcquireWritelockResponse struct {
	Header             Header
	Granted            bool
	CopiesToInvalidate []keyspace.EdgeIndex
	Generation         uint64
}

func (AcquireWritelockResponse) Type() MessageType { return TypeAcquireWritelockResponse }

type ReleaseWritelockRequest struct {
	Header        Header
	Key           []byte
	Generation    uint64
	ProducedValue bool
}

func (ReleaseWritelockRequest) Type() MessageType { return TypeReleaseWritelockRequest }

type ReleaseWritelockResponse struct {
	Header        Header
	Accepted      bool
	EdgesToNotify []keyspace.EdgeIndex
}

func (ReleaseWritelockResponse) Type() MessageType { return TypeReleaseWritelockResponse }

// --- Invalidation / metadata-update / finish-block (spec.md §4.6) ---

type InvalidationRequest struct {
	Header Header
	Key    []byte
}

func (InvalidationRequest) Type() MessageType { return TypeInvalidationRequest }

type InvalidationResponse struct {
	Header Header
}

func (InvalidationResponse) Type() MessageType { return TypeInvalidationResponse }

type MetadataUpdateRequest struct {
	Header           Header
	Key              []byte
	IsNeighborCached bool
}

func (MetadataUpdateRequest) Type() MessageType { return TypeMetadataUpdateRequest }

type MetadataUpdateResponse struct {
	Header Header
}

func (MetadataUpdateResponse) Type() MessageType { return TypeMetadataUpdateResponse }

type FinishBlockRequest struct {
	Header Header
	Key    []byte
}

func (FinishBlockRequest) Type() MessageType { return TypeFinishBlockRequest }

type FinishBlockResponse struct {
	Header Header
}

func (FinishBlockResponse) Type() MessageType { return TypeFinishBlockResponse }

// --- Placement (spec.md §4.5) ---

type PlacementNotifyRequest struct {
	Header  Header
	Key     []byte
	Value   []byte
	Info    DirectoryInfo
	Edgeset []keyspace.EdgeIndex
	Syncset []VictimEntry
}

func (PlacementNotifyRequest) Type() MessageType { return TypePlacementNotifyRequest }

type PlacementNotifyResponse struct {
	Header Header
}

func (PlacementNotifyResponse) Type() MessageType { return TypePlacementNotifyResponse }
