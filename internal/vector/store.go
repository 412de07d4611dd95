package vector

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/devrev/kissvdb/internal/model"
)

// writeRecord frames one record as [u32 big-endian length][msgpack body],
// the same envelope style haivivi-giztoy and weaviate use for binary
// payloads elsewhere in the retrieved pack.
func writeRecord(w io.Writer, rec model.VectorRecord) error {
	body, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal vector record: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write record length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write record body: %w", err)
	}
	return nil
}

// readRecord reads one framed record. It returns io.EOF when the stream ends
// cleanly on a frame boundary, and io.ErrUnexpectedEOF when it ends mid
// frame (a crash-torn tail, discarded the same way the WAL discards a
// truncated final segment).
func readRecord(r io.Reader) (*model.VectorRecord, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	var rec model.VectorRecord
	if err := msgpack.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode vector record: %w", err)
	}
	return &rec, nil
}
