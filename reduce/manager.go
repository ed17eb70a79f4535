// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import (
	"fmt"
)

// Manager owns an ordered list of Sessions and applies the same
// operation to every open file.  Per-file failures are logged and
// collected in a BatchError; the batch continues with the remaining
// files.  Containers stay open for the life of the batch and are
// closed, repacked, exactly once by CloseAll.
type Manager struct {
	paths    []string
	sessions map[string]*Session
	closed   bool
}

// OpenFiles opens one Session per path.  Files that fail to open are
// reported in the returned BatchError; the manager is usable with the
// files that did open.
func OpenFiles(paths ...string) (*Manager, error) {
	m := &Manager{sessions: map[string]*Session{}}
	return m, m.AddFiles(paths...)
}

// AddFiles appends new Sessions without disturbing existing ones.
// Already-open paths are skipped.  The next operation re-stitches so
// the new files catch up.
func (m *Manager) AddFiles(paths ...string) error {
	if m.closed {
		return fmt.Errorf("reduce: manager is closed")
	}
	batch := BatchError{}
	for _, p := range paths {
		if _, ok := m.sessions[p]; ok {
			continue
		}
		s, err := OpenSession(p)
		if err != nil {
			logger().Error("open failed", "file", p, "err", err)
			batch[p] = err
			continue
		}
		m.paths = append(m.paths, p)
		m.sessions[p] = s
	}
	return batch.orNil()
}

// Paths returns the open file paths in order.
func (m *Manager) Paths() []string { return append([]string(nil), m.paths...) }

// Session returns the Session for a path.
func (m *Manager) Session(path string) (*Session, bool) {
	s, ok := m.sessions[path]
	return s, ok
}

// restitchIfNeeded stitches any session that is not stitched yet,
// which happens after AddFiles.  Failed stitches are reported and the
// files skipped for the current operation.
func (m *Manager) restitchIfNeeded() BatchError {
	stitched := 0
	for _, s := range m.sessions {
		if s.Stitched() {
			stitched++
		}
	}
	batch := BatchError{}
	if stitched == len(m.paths) {
		return batch
	}
	for _, p := range m.paths {
		s := m.sessions[p]
		if s.Stitched() {
			continue
		}
		if err := s.Stitch(); err != nil {
			logger().Error("stitch failed", "file", p, "err", err)
			batch[p] = err
		}
	}
	return batch
}

// each applies fn to every session in path order, continuing on error.
func (m *Manager) each(op string, fn func(*Session) error) error {
	if m.closed {
		return fmt.Errorf("reduce: manager is closed")
	}
	batch := m.restitchIfNeeded()
	for _, p := range m.paths {
		if _, failed := batch[p]; failed {
			continue
		}
		if err := fn(m.sessions[p]); err != nil {
			logger().Error("operation failed", "op", op, "file", p, "err", err)
			batch[p] = err
		}
	}
	return batch.orNil()
}

// ProcessQSpace runs the Q-space projection on every file.
func (m *Manager) ProcessQSpace(p QSpaceParams) error {
	return m.each("q_space", func(s *Session) error {
		_, err := s.ProcessQSpace(p)
		return err
	})
}

// ProcessCaking runs the polar remapping on every file.
func (m *Manager) ProcessCaking(p CakingParams) error {
	return m.each("caking", func(s *Session) error {
		_, err := s.ProcessCaking(p)
		return err
	})
}

// ProcessRadialAverage runs the radial average on every file.
func (m *Manager) ProcessRadialAverage(p RadialParams) error {
	return m.each("radial_average", func(s *Session) error {
		_, err := s.ProcessRadialAverage(p)
		return err
	})
}

// ProcessAzimuthalAverage runs the azimuthal average on every file.
func (m *Manager) ProcessAzimuthalAverage(p AzimuthalParams) error {
	return m.each("azimuthal_average", func(s *Session) error {
		_, err := s.ProcessAzimuthalAverage(p)
		return err
	})
}

// ProcessHorizontalIntegration runs the horizontal integration on every
// file.
func (m *Manager) ProcessHorizontalIntegration(p IntegrationParams) error {
	return m.each("horizontal_integration", func(s *Session) error {
		_, err := s.ProcessHorizontalIntegration(p)
		return err
	})
}

// ProcessVerticalIntegration runs the vertical integration on every
// file.
func (m *Manager) ProcessVerticalIntegration(p IntegrationParams) error {
	return m.each("vertical_integration", func(s *Session) error {
		_, err := s.ProcessVerticalIntegration(p)
		return err
	})
}

// ProcessAbsoluteIntensity runs the absolute-intensity calibration on
// every file.
func (m *Manager) ProcessAbsoluteIntensity(p AbsoluteParams) error {
	return m.each("absolute_intensity", func(s *Session) error {
		_, err := s.ProcessAbsoluteIntensity(p)
		return err
	})
}

// DeleteGroup removes a result group from every file.  No geometry is
// touched, so this works on unstitched sessions too.
func (m *Manager) DeleteGroup(name string) error {
	if m.closed {
		return fmt.Errorf("reduce: manager is closed")
	}
	batch := BatchError{}
	for _, p := range m.paths {
		if err := m.sessions[p].DeleteGroup(name); err != nil {
			logger().Error("delete failed", "file", p, "group", name, "err", err)
			batch[p] = err
		}
	}
	return batch.orNil()
}

// CloseAll closes and repacks every container.  It runs for every file
// even when some fail, and even after failed operations, so no
// container is left bloated.  Calling CloseAll again is a no-op.
func (m *Manager) CloseAll() error {
	if m.closed {
		return nil
	}
	m.closed = true
	batch := BatchError{}
	for _, p := range m.paths {
		if err := m.sessions[p].Close(); err != nil {
			logger().Error("close failed", "file", p, "err", err)
			batch[p] = err
		}
	}
	return batch.orNil()
}
