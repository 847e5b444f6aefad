package vfs

import (
	"bytes"
	"context"
	"errors"
)

// linkMagic starts the content of every link file. The rest of the file is
// the absolute target path.
var linkMagic = []byte("#!xenvfs-link\n")

// Link creates a link at linkPath pointing to target. The target is
// normalized against the working directory but does not have to exist.
// Links are ordinary files to Read and List; only Readlink and Unlink
// interpret them.
func (m *Manager) Link(ctx context.Context, target, linkPath string) error {
	targetAbs, err := m.begin(OpLink, target)
	if err != nil {
		return m.finish(OpLink, target, err)
	}
	linkAbs, err := m.begin(OpLink, linkPath)
	if err != nil {
		return m.finish(OpLink, linkPath, err)
	}
	return m.finish(OpLink, linkAbs, m.write(ctx, linkAbs, EncodeLink(targetAbs)))
}

// Readlink returns the target of the link at linkPath.
func (m *Manager) Readlink(ctx context.Context, linkPath string) (string, error) {
	abs, err := m.begin(OpReadlink, linkPath)
	if err != nil {
		return "", m.finish(OpReadlink, linkPath, err)
	}
	target, err := m.readlink(ctx, abs)
	if err != nil {
		return "", m.finish(OpReadlink, abs, err)
	}
	return target, m.finish(OpReadlink, abs, nil)
}

func (m *Manager) readlink(ctx context.Context, abs string) (string, error) {
	data, err := m.read(ctx, abs)
	if errors.Is(normalizeError(err), ErrIsADirectory) {
		return "", ErrNotALink
	}
	if err != nil {
		return "", err
	}
	target, ok := DecodeLink(data)
	if !ok {
		return "", ErrNotALink
	}
	return target, nil
}

// Unlink removes the link at linkPath. Regular files are refused with
// ErrNotALink.
func (m *Manager) Unlink(ctx context.Context, linkPath string) error {
	abs, err := m.begin(OpUnlink, linkPath)
	if err != nil {
		return m.finish(OpUnlink, linkPath, err)
	}
	if _, err := m.readlink(ctx, abs); err != nil {
		return m.finish(OpUnlink, abs, err)
	}
	return m.finish(OpUnlink, abs, m.rm(ctx, abs))
}

// EncodeLink returns the file content of a link to target.
func EncodeLink(target string) []byte {
	out := make([]byte, 0, len(linkMagic)+len(target))
	out = append(out, linkMagic...)
	return append(out, target...)
}

// DecodeLink returns the target stored in link file content.
func DecodeLink(data []byte) (string, bool) {
	if !bytes.HasPrefix(data, linkMagic) {
		return "", false
	}
	target := string(data[len(linkMagic):])
	if target == "" || target[0] != '/' {
		return "", false
	}
	return target, true
}
