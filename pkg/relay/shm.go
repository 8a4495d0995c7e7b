package relay

import "time"

// Shared-memory segment layout. All integers are little-endian and every
// field read concurrently is 8-byte aligned.
//
//	header (64 bytes)
//	  0  magic    u32
//	  4  version  u32
//	  8  slotCap  u32  payload capacity per slot
//	 16  latest   u64  sequence number of the newest complete frame
//	slot[i] at 64 + i*(16+slotCap), i in {0, 1}
//	  0  seq      u64  seqlock: odd while being written, 2*n when frame n is complete
//	  8  length   u32  payload length
//	 16  payload       wire-encoded frame
const (
	shmMagic      = 0x4d435641 // "AVCM"
	shmVersion    = 1
	shmHeaderSize = 64
	shmSlotHeader = 16
	shmSlots      = 2

	offMagic   = 0
	offVersion = 4
	offSlotCap = 8
	offLatest  = 16
)

// DefaultShmPoll is how often a shared-memory receiver checks for a new frame.
const DefaultShmPoll = 5 * time.Millisecond

func shmSlotOffset(slotCap, slot int) int {
	return shmHeaderSize + slot*(shmSlotHeader+slotCap)
}

func shmSegmentSize(slotCap int) int {
	return shmSlotOffset(slotCap, shmSlots)
}

// alignSlotCap rounds capacity up so slot headers stay 8-byte aligned.
func alignSlotCap(n int) int {
	return (n + 7) &^ 7
}
