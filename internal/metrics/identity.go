package metrics

import (
	"net"
	"strings"
)

// Endpoint is an opaque network address. It is only compared, never dialed.
type Endpoint string

// AnyLocal replaces the local endpoint when local distinction is disabled so
// that every connection to the same remote collapses into one bucket.
const AnyLocal Endpoint = "local:any"

// EndpointFromAddr converts a net.Addr into an Endpoint. A nil address maps to
// the empty endpoint.
func EndpointFromAddr(addr net.Addr) Endpoint {
	if addr == nil {
		return ""
	}
	return Endpoint(addr.String())
}

// OperationType identifies the kind of command, e.g. "GET" or "HSET".
type OperationType string

// Phase names one of the two latencies recorded per command.
type Phase string

const (
	PhaseFirstResponse Phase = "firstResponseLatency"
	PhaseCompletion    Phase = "completionLatency"
)

// MetricNamePrefix prefixes every name produced by BucketIdentity.MetricName.
const MetricNamePrefix = "cmdlatency"

// BucketIdentity keys one aggregation bucket. It is comparable, so it can be
// used directly as a map key, and immutable once created.
type BucketIdentity struct {
	local     Endpoint
	remote    Endpoint
	operation OperationType
}

// NewBucketIdentity derives the identity for an event. When localDistinction
// is false the local endpoint is replaced by AnyLocal.
func NewBucketIdentity(local, remote Endpoint, op OperationType, localDistinction bool) BucketIdentity {
	if !localDistinction {
		local = AnyLocal
	}
	return BucketIdentity{local: local, remote: remote, operation: op}
}

func (id BucketIdentity) Local() Endpoint          { return id.local }
func (id BucketIdentity) Remote() Endpoint         { return id.remote }
func (id BucketIdentity) Operation() OperationType { return id.operation }

// Compare orders identities lexicographically over (local, remote, operation).
func (id BucketIdentity) Compare(other BucketIdentity) int {
	if c := strings.Compare(string(id.local), string(other.local)); c != 0 {
		return c
	}
	if c := strings.Compare(string(id.remote), string(other.remote)); c != 0 {
		return c
	}
	return strings.Compare(string(id.operation), string(other.operation))
}

// Less reports whether id sorts before other.
func (id BucketIdentity) Less(other BucketIdentity) bool {
	return id.Compare(other) < 0
}

func (id BucketIdentity) String() string {
	var b strings.Builder
	b.Grow(len(id.local) + len(id.remote) + len(id.operation) + 8)
	b.WriteByte('[')
	b.WriteString(string(id.local))
	b.WriteString(" -> ")
	b.WriteString(string(id.remote))
	b.WriteString(", ")
	b.WriteString(string(id.operation))
	b.WriteByte(']')
	return b.String()
}

// MetricName returns the dotted registry-style name for one phase of the
// bucket, e.g. "cmdlatency.[local:any -> 10.0.0.1:6379, GET].completionLatency".
func (id BucketIdentity) MetricName(phase Phase) string {
	return MetricNamePrefix + "." + id.String() + "." + string(phase)
}
