package imaging

import (
	"errors"
	"sort"
	"sync"
)

// RegisteredCapacity is the number of handles reserved for registered images.
const RegisteredCapacity = 1024

var (
	// ErrNotFound is returned when a handle is not bound to an image.
	ErrNotFound = errors.New("image not found")

	// ErrRegistryFull is returned when every registered handle is taken.
	ErrRegistryFull = errors.New("registered image capacity reached")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("image store closed")
)

// Store is the per-connection table of images, keyed by handle.
//
// Store is safe for concurrent use by multiple goroutines.
//
// # Example Usage
//
//	store := imaging.NewStore()
//	defer store.Close()
//
//	h, err := store.Register(img)
//	if err != nil {
//	    return err
//	}
//	got, err := store.Get(h)
type Store struct {
	mu     sync.RWMutex
	images map[uint64]*Image
	closed bool

	nextRegistered uint64
	nextMinted     uint64
}

// NewStore creates an empty store with no handles assigned.
func NewStore() *Store {
	return &Store{
		images:         make(map[uint64]*Image),
		nextRegistered: 1,
		nextMinted:     RegisteredCapacity + 1,
	}
}

// Register binds img to the next free registered handle.
//
// Parameters:
//   - img: The decoded image to store. The store keeps the pointer; callers
//     must not mutate the image afterwards.
//
// Returns:
//   - uint64: The handle, counting up from 1. Handles are never reused.
//   - error: Non-nil if the image could not be stored.
//
// # Errors
//
//   - ErrRegistryFull once RegisteredCapacity images have been registered
//   - ErrStoreClosed after Close
func (s *Store) Register(img *Image) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	if s.nextRegistered > RegisteredCapacity {
		return 0, ErrRegistryFull
	}

	h := s.nextRegistered
	s.nextRegistered++
	s.images[h] = img
	return h, nil
}

// Insert binds img to a newly minted handle above the registered range.
//
// Parameters:
//   - img: The transform result to store.
//
// Returns:
//   - uint64: A handle greater than RegisteredCapacity. Minted handles are
//     unbounded and never reused.
//   - error: ErrStoreClosed after Close, nil otherwise.
func (s *Store) Insert(img *Image) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	h := s.nextMinted
	s.nextMinted++
	s.images[h] = img
	return h, nil
}

// Get returns the image bound to handle h.
//
// Parameters:
//   - h: A handle returned by Register or Insert.
//
// Returns:
//   - *Image: The bound image. It is shared with the store and must be
//     treated as read-only.
//   - error: Non-nil if no image is bound to h.
//
// # Errors
//
//   - ErrNotFound if h was never assigned
//   - ErrStoreClosed after Close
func (s *Store) Get(h uint64) (*Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	img, ok := s.images[h]
	if !ok {
		return nil, ErrNotFound
	}
	return img, nil
}

// Replace rebinds an occupied handle to img, releasing the previous image.
//
// Parameters:
//   - h: An occupied handle.
//   - img: The image that takes its place.
//
// # Errors
//
//   - ErrNotFound if h is empty, in which case nothing is bound
//   - ErrStoreClosed after Close
func (s *Store) Replace(h uint64, img *Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.images[h]; !ok {
		return ErrNotFound
	}
	s.images[h] = img
	return nil
}

// Len returns the number of occupied handles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

// Handles returns the occupied handles in ascending order.
func (s *Store) Handles() []uint64 {
	s.mu.RLock()
	handles := make([]uint64, 0, len(s.images))
	for h := range s.images {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// Close releases every image. Later calls fail with ErrStoreClosed.
func (s *Store) Close() {
	s.mu.Lock()
	s.images = make(map[uint64]*Image)
	s.closed = true
	s.mu.Unlock()
}
