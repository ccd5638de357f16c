package command

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quorumfs/quorumfs/pkg/fserr"
)

// Encode serializes a command for the wire or the replicated log.
// Entries above MaxEntrySize are rejected before admission.
func Encode(cmd *Command) ([]byte, error) {
	data, err := msgpack.Marshal(cmd)
	if err != nil {
		return nil, fserr.Newf(fserr.Serialization, "encode command: %v", err)
	}
	if len(data) > MaxEntrySize {
		return nil, fserr.Newf(fserr.TooLarge,
			"encoded command is %d bytes, limit is %d", len(data), MaxEntrySize)
	}
	return data, nil
}

// Decode deserializes a command. Failures never unwind across the raft apply
// boundary; they come back as Serialization errors.
func Decode(data []byte) (*Command, error) {
	var cmd Command
	if err := msgpack.Unmarshal(data, &cmd); err != nil {
		return nil, fserr.Newf(fserr.Serialization, "decode command: %v", err)
	}
	if !cmd.Type.Valid() {
		return nil, fserr.Newf(fserr.Serialization, "unknown command type %d", cmd.Type)
	}
	return &cmd, nil
}

// EncodeResponse serializes a response for the wire.
func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return nil, fserr.Newf(fserr.Serialization, "encode response: %v", err)
	}
	return data, nil
}

// DecodeResponse deserializes a response.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return nil, fserr.Newf(fserr.Serialization, "decode response: %v", err)
	}
	return &resp, nil
}

// OKResponse builds a success reply.
func OKResponse() *Response {
	return &Response{OK: true}
}

// ErrResponse builds a failure reply carrying the error's wire rendering.
func ErrResponse(err error) *Response {
	return &Response{OK: false, Error: fserr.Format(err)}
}

// EncodeStat serializes a STAT result for Response.Data.
func EncodeStat(info *StatInfo) ([]byte, error) {
	data, err := msgpack.Marshal(info)
	if err != nil {
		return nil, fserr.Newf(fserr.Serialization, "encode stat: %v", err)
	}
	return data, nil
}

// DecodeStat deserializes a STAT result from Response.Data.
func DecodeStat(data []byte) (*StatInfo, error) {
	var info StatInfo
	if err := msgpack.Unmarshal(data, &info); err != nil {
		return nil, fserr.Newf(fserr.Serialization, "decode stat: %v", err)
	}
	return &info, nil
}
