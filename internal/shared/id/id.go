// Package id provides typed ULID generation for engine entities.
//
// ULIDs are lexicographically sortable, so session and request histories can
// be ordered without separate timestamps, and prefixes keep log lines
// readable (sess_*, req_*, srv_*).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies one engine session (one virtual filesystem lifetime).
type SessionID string

// RequestID identifies a facade API request.
type RequestID string

// ServerID identifies a virtual dev-server instance.
type ServerID string

func (id SessionID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id ServerID) String() string  { return string(id) }

const (
	sessionPrefix = "sess"
	requestPrefix = "req"
	serverPrefix  = "srv"
)

// Generator generates ULIDs from a guarded entropy source.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator with the given entropy source. Tests can
// pass a deterministic reader.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(sessionPrefix))
}

// NewRequestID generates a request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(requestPrefix))
}

// NewServerID generates a virtual-server ID.
func NewServerID() ServerID {
	return ServerID(Default().GenerateWithPrefix(serverPrefix))
}

// IsValid reports whether s parses as a bare ULID.
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}
