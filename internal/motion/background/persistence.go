package background

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/banshee-data/motiontrail/internal/monitoring"
)

// Snapshot is a copy of the current buffer set of a model.
type Snapshot struct {
	Width    int
	Height   int
	Mode     Mode
	Mean     []float32
	Variance []float32
}

// BgSnapshot is one persisted model row.
type BgSnapshot struct {
	SnapshotID     *int64
	SessionID      string
	Source         string
	TakenUnixNanos int64
	Width          int
	Height         int
	Channels       int
	Mode           string
	ModelBlob      []byte
	Reason         string
}

// BgStore persists BgSnapshot records. Implemented by db.DB.
type BgStore interface {
	InsertBgSnapshot(s *BgSnapshot) (int64, error)
}

// Snapshot copies the current mean and variance.
func (m *Model) Snapshot() *Snapshot {
	s := &Snapshot{
		Width:    m.Width,
		Height:   m.Height,
		Mode:     m.Mode,
		Mean:     make([]float32, len(m.Mean())),
		Variance: make([]float32, len(m.Variance())),
	}
	copy(s.Mean, m.Mean())
	copy(s.Variance, m.Variance())
	return s
}

// Restore loads s into both buffer sets. The model is left untouched when
// the snapshot shape differs.
func (m *Model) Restore(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	if !m.Matches(s.Width, s.Height, s.Mode) {
		return fmt.Errorf("%w: model %dx%d %s, snapshot %dx%d %s",
			ErrResolutionMismatch, m.Width, m.Height, m.Mode, s.Width, s.Height, s.Mode)
	}
	if len(s.Mean) != len(m.mean[0]) || len(s.Variance) != len(m.variance[0]) {
		return fmt.Errorf("snapshot buffers have %d/%d samples, want %d/%d",
			len(s.Mean), len(s.Variance), len(m.mean[0]), len(m.variance[0]))
	}
	for i := range m.mean {
		copy(m.mean[i], s.Mean)
		copy(m.variance[i], s.Variance)
	}
	m.idx = 0
	m.Generation++
	m.Updates = 0
	return nil
}

// EncodeSnapshot compresses a snapshot with gob and gzip.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(s); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(blob []byte) (*Snapshot, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty model blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var s Snapshot
	if err := gob.NewDecoder(gz).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode model snapshot: %w", err)
	}
	return &s, nil
}

// SnapshotFromRow decodes the model blob of a stored row.
func SnapshotFromRow(row *BgSnapshot) (*Snapshot, error) {
	if row == nil {
		return nil, fmt.Errorf("nil snapshot row")
	}
	s, err := DecodeSnapshot(row.ModelBlob)
	if err != nil {
		return nil, err
	}
	if s.Width != row.Width || s.Height != row.Height {
		return nil, fmt.Errorf("snapshot row %dx%d does not match blob %dx%d", row.Width, row.Height, s.Width, s.Height)
	}
	return s, nil
}

// Persist serialises the current buffer set and writes it through store.
func Persist(m *Model, store BgStore, sessionID, source, reason string) (int64, error) {
	if m == nil || store == nil {
		return 0, nil
	}
	snap := m.Snapshot()
	blob, err := EncodeSnapshot(snap)
	if err != nil {
		return 0, err
	}

	row := &BgSnapshot{
		SessionID:      sessionID,
		Source:         source,
		TakenUnixNanos: time.Now().UnixNano(),
		Width:          m.Width,
		Height:         m.Height,
		Channels:       m.Mode.Channels(),
		Mode:           m.Mode.String(),
		ModelBlob:      blob,
		Reason:         reason,
	}
	id, err := store.InsertBgSnapshot(row)
	if err != nil {
		return 0, err
	}
	monitoring.Logf("[background] Persisted snapshot: id=%d session=%s source=%s reason=%s shape=%dx%d/%s blob=%d bytes",
		id, sessionID, source, reason, m.Width, m.Height, m.Mode, len(blob))
	return id, nil
}
