package xpc

import "fmt"

// ResourceKind distinguishes the concrete types a Resource can carry.
type ResourceKind uint8

const (
	ResourceFd ResourceKind = iota + 1
	ResourceSharedMemory
)

// Resource is the out-of-band payload a Transport may attach to a
// frame alongside Credentials: either a single file descriptor (rights
// transferred via SCM_RIGHTS on the Unix transport) or a shared-memory
// segment (an fd plus its mapped size). It is a closed sum type; the
// zero value is invalid.
type Resource struct {
	kind   ResourceKind
	handle int
	size   uint64
}

// NewFdResource wraps a raw file descriptor for attachment to a send.
func NewFdResource(handle int) Resource {
	return Resource{kind: ResourceFd, handle: handle}
}

// NewSharedMemoryResource wraps a shared memory segment's descriptor
// and byte size for attachment to a send.
func NewSharedMemoryResource(handle int, size uint64) Resource {
	return Resource{kind: ResourceSharedMemory, handle: handle, size: size}
}

// Kind reports which variant r holds.
func (r Resource) Kind() ResourceKind { return r.kind }

// Fd returns the descriptor carried by r, for either ResourceFd or
// ResourceSharedMemory.
func (r Resource) Fd() int { return r.handle }

// Size returns the mapped size of a ResourceSharedMemory; zero for any
// other kind.
func (r Resource) Size() uint64 { return r.size }

func (r Resource) String() string {
	switch r.kind {
	case ResourceFd:
		return fmt.Sprintf("fd(%d)", r.handle)
	case ResourceSharedMemory:
		return fmt.Sprintf("shmem(%d, %d bytes)", r.handle, r.size)
	default:
		return "resource(invalid)"
	}
}

// Credentials describes the peer identity a transport can recover
// out-of-band for a connection or a single received message, the way
// SO_PASSCRED/SCM_CREDENTIALS exposes it on the Unix transport.
type Credentials struct {
	PID uint64
	UID uint64
	GID uint64

	// AuditSessionID and AuditSessionUID carry the extra identity the
	// original Darwin transport recovers from the audit token: absent
	// on transports (like Linux SCM_CREDENTIALS) that don't have an
	// equivalent, in which case they are zero.
	AuditSessionID  uint64
	AuditSessionUID uint64
}
