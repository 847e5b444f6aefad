package vfs

import (
	"strings"

	"xenvfs/internal/backend"
)

// MaxPathLength bounds both the input and the normalized form of a path.
const MaxPathLength = 4096

// Normalize resolves path against cwd into an absolute, canonical form.
//
// Relative paths are joined to cwd; an empty path resolves to cwd. Empty and
// "." segments are dropped and ".." pops a segment, stopping at the root. The
// result starts with "/" and has no trailing slash except for the root itself.
// Paths containing a null byte or longer than MaxPathLength fail with
// ErrInvalidPath.
func Normalize(path, cwd string) (string, error) {
	if err := checkPath(path); err != nil {
		return "", err
	}

	full := path
	if !strings.HasPrefix(path, "/") {
		if err := checkPath(cwd); err != nil {
			return "", err
		}
		full = "/" + cwd + "/" + path
	}

	segs := make([]string, 0, strings.Count(full, "/"))
	for _, seg := range strings.Split(full, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, seg)
		}
	}

	out := "/" + strings.Join(segs, "/")
	if len(out) > MaxPathLength {
		return "", &Error{Op: OpNormalize, Path: truncate(path), Err: ErrInvalidPath}
	}
	return out, nil
}

func checkPath(p string) error {
	if strings.IndexByte(p, 0) >= 0 {
		return &Error{Op: OpNormalize, Path: truncate(p), Err: ErrInvalidPath}
	}
	if len(p) > MaxPathLength {
		return &Error{Op: OpNormalize, Path: truncate(p), Err: ErrInvalidPath}
	}
	return nil
}

// truncate keeps error messages readable for hostile inputs.
func truncate(p string) string {
	p = strings.ReplaceAll(p, "\x00", `\0`)
	if len(p) > 64 {
		return p[:64] + "..."
	}
	return p
}

// isStrictlyWithin reports whether p lies below dir and is not dir itself.
func isStrictlyWithin(p, dir string) bool {
	return p != dir && backend.IsWithin(p, dir)
}

// join appends a slash separated relative name to an absolute path.
func join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// IsWithin reports whether the normalized path p equals ancestor or lies
// below it. Comparison is segment-wise: "/mnt/ab" is not within "/mnt/a".
func IsWithin(p, ancestor string) bool {
	return backend.IsWithin(p, ancestor)
}

// RelativeTo returns p relative to ancestor, rooted at "/". p must be within
// ancestor.
func RelativeTo(p, ancestor string) string {
	return "/" + backend.Rel(p, ancestor)
}

// Parent returns the parent of a normalized path; the parent of "/" is "/".
func Parent(p string) string {
	return backend.Parent(p)
}

// Base returns the last segment of a normalized path, or "/" for the root.
func Base(p string) string {
	return backend.Base(p)
}
