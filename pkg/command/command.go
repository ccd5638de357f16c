// Package command defines the command and response records exchanged between
// clients and servers and replicated through the raft log, plus their
// MessagePack codec.
//
// Both the client wire payloads and the log entries use the same
// array-encoded MessagePack form, so encode/decode is one bijective codec
// for the whole system.
package command

// Type identifies a filesystem command.
type Type uint8

const (
	CreateFile Type = 1
	ReadFile   Type = 2
	WriteFile  Type = 3
	AppendFile Type = 4
	DeleteFile Type = 5
	CreateDir  Type = 6
	ListDir    Type = 7
	DeleteDir  Type = 8
	Rename     Type = 9
	Stat       Type = 10
	Exists     Type = 11
)

const (
	// MaxEntrySize caps an encoded log entry or wire frame payload.
	MaxEntrySize = 100 * 1024 * 1024

	// MaxReadSize caps the byte contents returned by a READ_FILE.
	MaxReadSize = 100 * 1024 * 1024

	// MaxPathLen caps a logical path in bytes.
	MaxPathLen = 4096
)

var typeNames = map[Type]string{
	CreateFile: "CREATE_FILE",
	ReadFile:   "READ_FILE",
	WriteFile:  "WRITE_FILE",
	AppendFile: "APPEND_FILE",
	DeleteFile: "DELETE_FILE",
	CreateDir:  "CREATE_DIR",
	ListDir:    "LIST_DIR",
	DeleteDir:  "DELETE_DIR",
	Rename:     "RENAME",
	Stat:       "STAT",
	Exists:     "EXISTS",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// Valid reports whether t is a known command type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Mutating reports whether t changes replica state and therefore must travel
// through the replicated log. Read types are served from local state.
func (t Type) Mutating() bool {
	switch t {
	case CreateFile, WriteFile, AppendFile, DeleteFile, CreateDir, DeleteDir, Rename:
		return true
	default:
		return false
	}
}

// Command is the tagged record for one filesystem operation.
//
// The wire form is a 4-element MessagePack array
// [type, path, new_path, payload]; NewPath is only meaningful for RENAME and
// Payload only for WRITE_FILE/APPEND_FILE.
type Command struct {
	_msgpack struct{} `msgpack:",as_array"`

	Type    Type
	Path    string
	NewPath string
	Payload []byte
}

// Response is the reply for one command: a 4-element MessagePack array
// [ok, error, data, entries]. Data carries read bytes, Entries carries
// directory listings.
type Response struct {
	_msgpack struct{} `msgpack:",as_array"`

	OK      bool
	Error   string
	Data    []byte
	Entries []string
}

// StatInfo is the STAT result, carried msgpack-encoded in Response.Data.
type StatInfo struct {
	_msgpack struct{} `msgpack:",as_array"`

	Name        string
	Size        int64
	IsDirectory bool
	// ModTimeUnix is seconds since the epoch. Modification time is local
	// filesystem metadata and is not replicated.
	ModTimeUnix int64
}
