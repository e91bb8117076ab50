package isapi

import "bytes"

const (
	beginTag  = "<EventNotificationAlert"
	endMarker = "</EventNotificationAlert>"

	// Cap on the accumulation buffer. An alert record is a few KB; hitting
	// this means the stream desynced (e.g. a device that never closes its
	// root element) and holding more only burns memory.
	maxBuffer = 1 << 20
)

// Framer extracts complete EventNotificationAlert records from an unbounded
// chunked byte stream. Chunk boundaries are arbitrary: a record, or even the
// end marker itself, may be split across any number of chunks, and one chunk
// may carry several complete records.
//
// Framer is not safe for concurrent use; the supervisor owns one per
// connection and feeds it from a single read loop.
type Framer struct {
	buf []byte
}

// Append adds one chunk to the accumulation buffer and returns the complete
// records it closed off, in stream order. Bytes between records that contain
// no begin tag (keep-alive padding, partial garbage) are discarded.
func (f *Framer) Append(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var records [][]byte
	for {
		end := bytes.Index(f.buf, []byte(endMarker))
		if end < 0 {
			break
		}
		segment := f.buf[:end+len(endMarker)]
		if start := bytes.LastIndex(segment, []byte(beginTag)); start >= 0 {
			record := make([]byte, len(segment)-start)
			copy(record, segment[start:])
			records = append(records, record)
		}
		f.buf = f.buf[end+len(endMarker):]
	}

	if len(f.buf) > maxBuffer {
		// Keep the tail from the newest begin tag, if any; the prefix can
		// never start a record.
		if start := bytes.LastIndex(f.buf, []byte(beginTag)); start > 0 {
			f.buf = append(f.buf[:0], f.buf[start:]...)
		} else if start < 0 {
			f.buf = f.buf[:0]
		}
	}

	return records
}

// Reset drops any partial record, e.g. after a reconnect.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
