// Package wire defines the debug Message model and its binary wire format.
//
// A connection starts with a single version byte (ProtocolVersion) written by
// the producer, followed by any number of frames:
//
//	[u32 length][u8 kind][u64 timestamp][u32 len|thread_id][u32 len|filename][u32 line]
//	  kind=0: [u32 len|text]
//	  kind=1: [u32 count] * [u32 len|expr][u32 len|value]
//
// All integers are big-endian. length counts the bytes after the length field.
//
// Encode/AppendFrame build frames; Decode parses one frame body. Decoder reads
// frames from a stream, buffering at most one frame, and distinguishes a clean
// end of stream at a frame boundary (ErrConnectionClosed) from a truncated or
// malformed frame (*ProtocolError).
package wire
