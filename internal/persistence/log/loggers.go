package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"colonysim.ai/internal/sim/world"
)

// DefaultSegmentTicks is the number of ticks covered by one segment file.
const DefaultSegmentTicks = 3000

const segmentSuffix = ".jsonl.zst"

// SegmentWriter appends JSON lines to zstd files named after the first tick
// of their segment, so a world directory can be replayed in tick order
// without an index.
type SegmentWriter struct {
	dir    string
	prefix string
	span   uint64

	mu    sync.Mutex
	first uint64
	open  bool
	f     *os.File
	enc   *zstd.Encoder
	buf   *bufio.Writer
}

func NewSegmentWriter(dir, prefix string, span uint64) *SegmentWriter {
	if span == 0 {
		span = DefaultSegmentTicks
	}
	return &SegmentWriter{dir: dir, prefix: prefix, span: span}
}

// SegmentPath is the file holding ticks [first, first+span).
func (w *SegmentWriter) SegmentPath(first uint64) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%012d%s", w.prefix, first, segmentSuffix))
}

// Append writes v as one line of the segment that contains tick.
func (w *SegmentWriter) Append(tick uint64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	first := tick - tick%w.span
	if !w.open || first != w.first {
		if err := w.openLocked(first); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *SegmentWriter) openLocked(first uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	// Reopening a segment after a restart appends a new zstd frame.
	f, err := os.OpenFile(w.SegmentPath(first), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc = f, enc
	w.buf = bufio.NewWriterSize(enc, 128*1024)
	w.first, w.open = first, true
	return nil
}

func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *SegmentWriter) closeLocked() error {
	if !w.open {
		return nil
	}
	var firstErr error
	if err := w.buf.Flush(); err != nil {
		firstErr = err
	}
	if err := w.enc.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	w.f, w.enc, w.buf = nil, nil, nil
	w.open = false
	return firstErr
}

// Segments lists the segment files for prefix in dir, oldest first.
func Segments(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadSegment calls fn with every line of a segment file.
func ReadSegment(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

// TickLogger records one entry per tick; it is what replay consumes.
type TickLogger struct{ w *SegmentWriter }

func NewTickLogger(worldDir string, span uint64) *TickLogger {
	return &TickLogger{w: NewSegmentWriter(filepath.Join(worldDir, "ticks"), "ticks", span)}
}

func (l *TickLogger) WriteTick(e world.TickLogEntry) error { return l.w.Append(e.Tick, e) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// NotificationLogger records each job notification as its own line.
type NotificationLogger struct{ w *SegmentWriter }

func NewNotificationLogger(worldDir string, span uint64) *NotificationLogger {
	return &NotificationLogger{w: NewSegmentWriter(filepath.Join(worldDir, "notifications"), "notifications", span)}
}

func (l *NotificationLogger) WriteTick(e world.TickLogEntry) error {
	for _, n := range e.Notifications {
		if err := l.w.Append(n.Tick, n); err != nil {
			return err
		}
	}
	return nil
}

func (l *NotificationLogger) Close() error { return l.w.Close() }
