//go:build linux

package relay

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/frame"
	"golang.org/x/sys/unix"
)

func atomicU64(mem []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&mem[off]))
}

// ShmSender publishes frames into a shared-memory file (typically under /dev/shm).
//
// The segment is created on the first Send, sized for that frame or
// MinCapacity, whichever is larger. Writes alternate between two slots, so a
// reader copying one slot never races the writer.
type ShmSender struct {
	path        string
	minCapacity int
	logger      *slog.Logger

	mu      sync.Mutex
	file    *os.File
	mem     []byte
	slotCap int
	seq     uint64
	closed  bool
	stats   counters
}

// NewShmSender prepares a sender. minCapacity is the payload capacity per slot
// in bytes; 0 sizes the segment for the first frame.
func NewShmSender(path string, minCapacity int) *ShmSender {
	return &ShmSender{
		path:        path,
		minCapacity: minCapacity,
		logger:      log.Component("relay").With("transport", "shm", "path", path),
	}
}

// Send implements Sender.
func (s *ShmSender) Send(f *frame.Composite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	size := EncodedSize(f)
	if s.mem == nil {
		if err := s.create(size); err != nil {
			s.stats.errors.Add(1)
			return err
		}
	}
	if size > s.slotCap {
		s.stats.dropped.Add(1)
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrFrameTooLarge, size, s.slotCap)
	}

	s.seq++
	slot := int(s.seq % shmSlots)
	off := shmSlotOffset(s.slotCap, slot)
	seqlock := atomicU64(s.mem, off)

	atomic.StoreUint64(seqlock, 2*s.seq-1)
	binary.LittleEndian.PutUint32(s.mem[off+8:], uint32(size))
	EncodeTo(s.mem[off+shmSlotHeader:off+shmSlotHeader+size], f)
	atomic.StoreUint64(seqlock, 2*s.seq)
	atomic.StoreUint64(atomicU64(s.mem, offLatest), s.seq)

	s.stats.sent.Add(1)
	return nil
}

func (s *ShmSender) create(firstSize int) error {
	slotCap := firstSize
	if s.minCapacity > slotCap {
		slotCap = s.minCapacity
	}
	slotCap = alignSlotCap(slotCap)
	total := shmSegmentSize(slotCap)

	// Build the segment under a temporary name and rename it into place so
	// every segment has a fresh inode. A receiver still mapping a previous
	// segment keeps a valid mapping and notices the swap by inode.
	tmp := fmt.Sprintf("%s.tmp.%d", s.path, os.Getpid())
	file, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("relay: create %s: %w", tmp, err)
	}
	fail := func(op string, err error) error {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("relay: %s %s: %w", op, s.path, err)
	}
	if err := file.Truncate(int64(total)); err != nil {
		return fail("size", err)
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail("mmap", err)
	}

	binary.LittleEndian.PutUint32(mem[offVersion:], shmVersion)
	binary.LittleEndian.PutUint32(mem[offSlotCap:], uint32(slotCap))
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&mem[offMagic])), shmMagic)

	if err := os.Rename(tmp, s.path); err != nil {
		unix.Munmap(mem)
		return fail("publish", err)
	}

	s.file, s.mem, s.slotCap = file, mem, slotCap
	s.logger.Info("shared memory segment created", "slot_capacity", slotCap, "bytes", total)
	return nil
}

// Stats implements Sender.
func (s *ShmSender) Stats() Stats {
	return s.stats.snapshot()
}

// Close unmaps and removes the segment.
func (s *ShmSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	// leave the path alone if another sender has since replaced the segment
	if s.ownsPath() {
		os.Remove(s.path)
	}
	s.file.Close()
	return err
}

func (s *ShmSender) ownsPath() bool {
	var mine, cur unix.Stat_t
	if unix.Fstat(int(s.file.Fd()), &mine) != nil || unix.Stat(s.path, &cur) != nil {
		return false
	}
	return mine.Ino == cur.Ino && mine.Dev == cur.Dev
}

// ShmReceiver polls a shared-memory segment written by ShmSender.
//
// Delivery is lossy but ordered: if several frames are published between two
// polls only the newest is delivered, and sequence numbers never go backwards
// within one segment. A restarted sender publishes a new segment, which the
// receiver picks up from its first frame.
type ShmReceiver struct {
	path   string
	poll   time.Duration
	logger *slog.Logger
	stats  counters
}

// NewShmReceiver creates a receiver for path. poll <= 0 uses DefaultShmPoll.
func NewShmReceiver(path string, poll time.Duration) *ShmReceiver {
	if poll <= 0 {
		poll = DefaultShmPoll
	}
	return &ShmReceiver{
		path:   path,
		poll:   poll,
		logger: log.Component("relay").With("transport", "shm", "path", path),
	}
}

type shmMapping struct {
	mem     []byte
	slotCap int
	ino     uint64
}

func (r *ShmReceiver) open() (*shmMapping, error) {
	var st unix.Stat_t
	if err := unix.Stat(r.path, &st); err != nil {
		return nil, err
	}
	if st.Size < shmHeaderSize {
		return nil, fmt.Errorf("relay: %s not initialized", r.path)
	}

	file, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	mem, err := unix.Mmap(int(file.Fd()), 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	if atomic.LoadUint32((*uint32)(unsafe.Pointer(&mem[offMagic]))) != shmMagic ||
		binary.LittleEndian.Uint32(mem[offVersion:]) != shmVersion {
		unix.Munmap(mem)
		return nil, fmt.Errorf("relay: %s is not a frame segment", r.path)
	}
	slotCap := int(binary.LittleEndian.Uint32(mem[offSlotCap:]))
	if shmSegmentSize(slotCap) > len(mem) {
		unix.Munmap(mem)
		return nil, fmt.Errorf("relay: %s truncated", r.path)
	}
	return &shmMapping{mem: mem, slotCap: slotCap, ino: st.Ino}, nil
}

// stale reports whether the sender replaced the segment file.
func (r *ShmReceiver) stale(m *shmMapping) bool {
	var st unix.Stat_t
	if err := unix.Stat(r.path, &st); err != nil {
		return true
	}
	return st.Ino != m.ino
}

// Run implements Receiver. It waits for the segment to appear and remaps it
// if the sender recreates it.
func (r *ShmReceiver) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	var (
		m         *shmMapping
		last      uint64
		lastCheck time.Time
		buf       []byte
	)
	defer func() {
		if m != nil {
			unix.Munmap(m.mem)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if m == nil {
			mapped, err := r.open()
			if err != nil {
				continue
			}
			m, last, lastCheck = mapped, 0, time.Now()
			r.logger.Info("shared memory segment attached", "slot_capacity", m.slotCap)
		}

		if time.Since(lastCheck) > time.Second {
			lastCheck = time.Now()
			if r.stale(m) {
				r.detach(&m)
				continue
			}
		}

		latest := atomic.LoadUint64(atomicU64(m.mem, offLatest))
		if latest < last {
			// sequence went backwards: a new sender owns the segment
			r.detach(&m)
			continue
		}
		if latest == last {
			continue
		}

		f, ok := r.read(m, latest, &buf)
		if !ok {
			continue
		}
		if latest > last+1 && last != 0 {
			r.stats.dropped.Add(latest - last - 1)
		}
		last = latest
		r.stats.received.Add(1)
		h(f)
	}
}

func (r *ShmReceiver) detach(m **shmMapping) {
	unix.Munmap((*m).mem)
	*m = nil
	r.logger.Info("shared memory segment replaced, reattaching")
}

// read copies frame n out of its slot. ok is false if the slot was
// overwritten during the copy; the next poll retries.
func (r *ShmReceiver) read(m *shmMapping, n uint64, buf *[]byte) (*frame.Composite, bool) {
	off := shmSlotOffset(m.slotCap, int(n%shmSlots))
	seqlock := atomicU64(m.mem, off)

	before := atomic.LoadUint64(seqlock)
	if before != 2*n {
		return nil, false
	}
	size := int(binary.LittleEndian.Uint32(m.mem[off+8:]))
	if size > m.slotCap {
		r.stats.errors.Add(1)
		return nil, false
	}
	if cap(*buf) < size {
		*buf = make([]byte, size)
	}
	data := (*buf)[:size]
	copy(data, m.mem[off+shmSlotHeader:off+shmSlotHeader+size])

	if atomic.LoadUint64(seqlock) != before {
		return nil, false
	}

	f, err := Decode(data)
	if err != nil {
		r.stats.errors.Add(1)
		return nil, false
	}
	return f, true
}

// Stats implements Receiver.
func (r *ShmReceiver) Stats() Stats {
	return r.stats.snapshot()
}
