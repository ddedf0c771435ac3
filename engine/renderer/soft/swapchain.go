package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

type Swapchain struct {
	dev    *Device
	mu     sync.Mutex
	format metadata.Format
	extent metadata.Extent2D
	images []*Image

	next          uint32
	outOfDate     bool
	presented     int
	lastPresented uint32
}

func newSwapchain(d *Device, count int, format metadata.Format, extent metadata.Extent2D) *Swapchain {
	s := &Swapchain{dev: d, format: format}
	s.build(count, extent)
	return s
}

func (s *Swapchain) build(count int, extent metadata.Extent2D) {
	s.extent = extent
	s.images = make([]*Image, count)
	for i := range s.images {
		s.images[i] = newImage(s.dev, gpu.ImageDesc{
			Name:   fmt.Sprintf("swapchain-%d", i),
			Format: s.format,
			Extent: extent,
			Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageTransferSrc,
		}, true)
	}
	s.next = 0
}

func (s *Swapchain) Format() metadata.Format { return s.format }

func (s *Swapchain) Extent() metadata.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *Swapchain) Images() []gpu.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gpu.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

// SoftImage returns a swapchain image for pixel inspection.
func (s *Swapchain) SoftImage(index uint32) *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[index]
}

func (s *Swapchain) Acquire(sem gpu.Semaphore, timeout time.Duration) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outOfDate {
		return 0, fmt.Errorf("soft: acquire next image: %w", core.ErrSwapchainOutOfDate)
	}
	signal, ok := sem.(*Semaphore)
	if !ok {
		return 0, fmt.Errorf("soft: acquire next image: %w: semaphore", core.ErrInvalidHandle)
	}
	if !signal.signalUnsignaled() {
		return 0, fmt.Errorf("soft: acquire next image: semaphore is still signaled: %w", ErrInvalidUsage)
	}
	index := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return index, nil
}

func (s *Swapchain) Present(index uint32, wait []gpu.Semaphore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range wait {
		sem, ok := w.(*Semaphore)
		if !ok || !sem.consume() {
			return fmt.Errorf("soft: present waits on semaphore %d that nothing signaled: %w", i, ErrInvalidUsage)
		}
	}
	if int(index) >= len(s.images) {
		return fmt.Errorf("soft: present image %d of %d: %w", index, len(s.images), ErrInvalidUsage)
	}
	if s.outOfDate {
		return fmt.Errorf("soft: present: %w", core.ErrSwapchainOutOfDate)
	}
	s.presented++
	s.lastPresented = index
	return nil
}

func (s *Swapchain) Recreate(width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.build(len(s.images), metadata.Extent2D{Width: width, Height: height})
	s.outOfDate = false
	core.LogDebug("soft swapchain recreated at %dx%d", width, height)
	return nil
}

// InjectOutOfDate makes the next Acquire and Present fail as a resized
// window would.
func (s *Swapchain) InjectOutOfDate() {
	s.mu.Lock()
	s.outOfDate = true
	s.mu.Unlock()
}

// Presented returns the number of successful presents and the last index.
func (s *Swapchain) Presented() (int, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented, s.lastPresented
}
