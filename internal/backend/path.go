package backend

import (
	"mime"
	"path"
	"strings"
)

// Clean returns the canonical backend-relative form of p: rooted at "/",
// no empty, "." or ".." segments, no trailing slash.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// Segments splits a clean path into its segments. The root has none.
func Segments(p string) []string {
	p = Clean(p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// Parent returns the parent directory of p. The parent of the root is the root.
func Parent(p string) string {
	return path.Dir(Clean(p))
}

// Base returns the last segment of p, or "/" for the root.
func Base(p string) string {
	return path.Base(Clean(p))
}

// Join joins elements into a clean path.
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// IsWithin reports whether p equals dir or lies below it, comparing whole
// segments so that "/ab" is not within "/a".
func IsWithin(p, dir string) bool {
	p, dir = Clean(p), Clean(dir)
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// Rel returns p relative to dir without a leading slash. p must be within dir.
func Rel(p, dir string) string {
	p, dir = Clean(p), Clean(dir)
	if p == dir {
		return ""
	}
	if dir == "/" {
		return p[1:]
	}
	return strings.TrimPrefix(p, dir+"/")
}

// DetectMIME derives a MIME type from the extension of name. Names without a
// known extension report application/octet-stream.
func DetectMIME(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
		return t
	}
	return "application/octet-stream"
}
