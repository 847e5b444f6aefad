package vfs

import (
	"context"
	"fmt"

	"xenvfs/internal/backend"
)

// Copy copies the file or directory tree at src to dest. An existing file at
// dest is overwritten.
func (m *Manager) Copy(ctx context.Context, src, dest string) error {
	return m.transfer(ctx, OpCopy, src, dest)
}

// Move moves the file or directory tree at src to dest.
//
// Between backends the tree is copied depth-first and src is removed only
// after every write succeeded, so a failed move never loses data. Such a
// failure is a *BridgeError.
func (m *Manager) Move(ctx context.Context, src, dest string) error {
	return m.transfer(ctx, OpMove, src, dest)
}

func (m *Manager) transfer(ctx context.Context, op, src, dest string) error {
	srcAbs, err := m.begin(op, src)
	if err != nil {
		return m.finish(op, src, err)
	}
	destAbs, err := m.begin(op, dest)
	if err != nil {
		return m.finish(op, dest, err)
	}
	if srcAbs == destAbs {
		return m.finish(op, srcAbs, nil)
	}
	if IsWithin(destAbs, srcAbs) {
		return m.finish(op, srcAbs, fmt.Errorf("%w: cannot %s %s into itself (%s)", ErrInvalidPath, op, srcAbs, destAbs))
	}
	if IsWithin(srcAbs, destAbs) {
		return m.finish(op, srcAbs, fmt.Errorf("%w: cannot %s %s onto its ancestor %s", ErrInvalidPath, op, srcAbs, destAbs))
	}
	return m.finish(op, srcAbs, m.transferAbs(ctx, op, srcAbs, destAbs))
}

func (m *Manager) transferAbs(ctx context.Context, op, src, dest string) error {
	srcL, err := m.acquire(src)
	if err != nil {
		return err
	}
	defer srcL.release()
	destL, err := m.acquire(dest)
	if err != nil {
		return err
	}
	defer destL.release()

	native := srcL.mount == destL.mount &&
		srcL.rel != "/" && destL.rel != "/" &&
		!m.hasMountsBelow(src)
	if native {
		return m.transferWithin(ctx, op, srcL.mount.backend, srcL.rel, destL.rel, src, dest)
	}
	return m.bridge(ctx, op, src, dest)
}

// transferWithin handles src and dest owned by the same backend.
func (m *Manager) transferWithin(ctx context.Context, op string, b backend.Backend, srcRel, destRel, src, dest string) error {
	switch op {
	case OpMove:
		if mv, ok := b.(backend.Mover); ok {
			return mv.Move(ctx, srcRel, destRel)
		}
	case OpCopy:
		if cp, ok := b.(backend.Copier); ok {
			return cp.Copy(ctx, srcRel, destRel)
		}
	}

	if err := m.copyTree(ctx, src, dest); err != nil {
		return err
	}
	if op == OpMove {
		return m.rm(ctx, src)
	}
	return nil
}

// bridge copies across backends. It ignores caller cancellation once the
// source has been found, so it either completes or fails with a BridgeError.
func (m *Manager) bridge(ctx context.Context, op, src, dest string) error {
	if _, err := m.stat(ctx, src); err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	logger.Debug("Bridging %s %s -> %s", op, src, dest)
	if err := m.copyTree(ctx, src, dest); err != nil {
		logger.Warn("%s %s -> %s failed, %s may hold a partial copy: %v", op, src, dest, dest, err)
		return &BridgeError{Op: op, Src: src, Dest: dest, Err: normalizeError(err)}
	}
	if op == OpMove {
		if err := m.rm(ctx, src); err != nil {
			logger.Warn("%s %s -> %s copied but the source could not be removed: %v", op, src, dest, err)
			return &BridgeError{Op: op, Src: src, Dest: dest, Err: normalizeError(err)}
		}
	}
	return nil
}

// copyTree copies src to dest depth-first through namespace reads and writes,
// so it crosses mounts on both sides.
func (m *Manager) copyTree(ctx context.Context, src, dest string) error {
	st, err := m.stat(ctx, src)
	if err != nil {
		return err
	}
	if st.IsFile {
		data, err := m.read(ctx, src)
		if err != nil {
			return err
		}
		if err := m.write(ctx, dest, data); err != nil {
			return err
		}
		m.metrics.bridged(len(data))
		return nil
	}

	if err := m.mkdir(ctx, dest); err != nil {
		return err
	}
	entries, err := m.list(ctx, src, false)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.copyTree(ctx, join(src, e.Name), join(dest, e.Name)); err != nil {
			return err
		}
	}
	return nil
}
