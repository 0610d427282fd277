package blobtree

import (
	"strings"
)

// Separator joins path segments into a [BlobKey].
const Separator = "/"

// PlaceholderName is the leaf name of the blob that keeps an otherwise empty
// folder observable.
const PlaceholderName = ".folder"

// BlobKey is a key in the backing store's flat namespace: seg/seg/leaf.
type BlobKey = string

// Path is a normalized, immutable sequence of segments. The zero value is the
// root folder. Paths are comparable and may be used as map keys.
//
// Paths must be built with [ParsePath], [NewPath], [SplitKey] or one of the
// derivation methods so that every segment has been validated.
type Path struct {
	key string
}

// Root is the root folder path.
var Root = Path{}

// ParsePath normalizes raw: leading and trailing separators are stripped, empty
// segments collapse and "." or ".." segments or NUL bytes are rejected.
// The empty string (or only separators) yields [Root].
func ParsePath(raw string) (Path, error) {
	if strings.IndexByte(raw, 0) >= 0 {
		return Path{}, &PathError{Op: "parse", Path: raw, Reason: "contains NUL byte"}
	}
	parts := strings.Split(raw, Separator)
	segs := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		if p == "." || p == ".." {
			return Path{}, &PathError{Op: "parse", Path: raw, Reason: "relative segment " + p}
		}
		segs = append(segs, p)
	}
	return Path{key: strings.Join(segs, Separator)}, nil
}

// MustParsePath is like [ParsePath] but panics on malformed input.
// Intended for literals in tests and program setup.
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPath builds a Path from already split segments. Unlike [ParsePath] each
// segment is taken as declared, so a segment that is empty or embeds a
// separator is an error rather than being re-split.
func NewPath(segments ...string) (Path, error) {
	for _, s := range segments {
		if err := validateSegment("new", s); err != nil {
			return Path{}, err
		}
	}
	return Path{key: strings.Join(segments, Separator)}, nil
}

// SplitKey is the inverse of [Path.Key]. Only canonical keys are accepted:
// no leading, trailing or doubled separators.
func SplitKey(key BlobKey) (Path, error) {
	if key == "" {
		return Root, nil
	}
	for _, s := range strings.Split(key, Separator) {
		if err := validateSegment("split", s); err != nil {
			err.(*PathError).Path = key
			return Path{}, err
		}
	}
	return Path{key: key}, nil
}

func validateSegment(op, s string) error {
	switch {
	case s == "":
		return &PathError{Op: op, Path: s, Reason: "empty segment"}
	case s == "." || s == "..":
		return &PathError{Op: op, Path: s, Reason: "relative segment " + s}
	case strings.Contains(s, Separator):
		return &PathError{Op: op, Path: s, Reason: "segment contains separator"}
	case strings.IndexByte(s, 0) >= 0:
		return &PathError{Op: op, Path: s, Reason: "contains NUL byte"}
	}
	return nil
}

// ValidateName checks that name is usable as a single path segment.
func ValidateName(name string) error {
	return validateSegment("name", name)
}

// Key joins the segments with [Separator]. Root yields "".
func (p Path) Key() BlobKey { return p.key }

// String renders the path with a leading separator for display.
func (p Path) String() string { return Separator + p.key }

// IsRoot reports whether p is the root folder.
func (p Path) IsRoot() bool { return p.key == "" }

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	if p.key == "" {
		return nil
	}
	return strings.Split(p.key, Separator)
}

// Depth is the number of segments.
func (p Path) Depth() int {
	if p.key == "" {
		return 0
	}
	return strings.Count(p.key, Separator) + 1
}

// Name is the last segment, "" for root.
func (p Path) Name() string {
	if i := strings.LastIndex(p.key, Separator); i >= 0 {
		return p.key[i+1:]
	}
	return p.key
}

// Parent returns the containing folder. The parent of root is root.
func (p Path) Parent() Path {
	if i := strings.LastIndex(p.key, Separator); i >= 0 {
		return Path{key: p.key[:i]}
	}
	return Root
}

// Child appends a single segment.
func (p Path) Child(name string) (Path, error) {
	if err := validateSegment("child", name); err != nil {
		return Path{}, err
	}
	if p.key == "" {
		return Path{key: name}, nil
	}
	return Path{key: p.key + Separator + name}, nil
}

// WithName replaces the last segment.
func (p Path) WithName(name string) (Path, error) {
	if p.IsRoot() {
		return Path{}, &PathError{Op: "rename", Path: p.String(), Reason: "root has no name"}
	}
	return p.Parent().Child(name)
}

// Equal reports whether p and other name the same location.
func (p Path) Equal(other Path) bool { return p.key == other.key }

// HasPrefix reports whether base is p or one of its ancestors.
func (p Path) HasPrefix(base Path) bool {
	if base.key == "" {
		return true
	}
	return p.key == base.key || strings.HasPrefix(p.key, base.key+Separator)
}

// IsDescendantOf reports whether p lies strictly under base.
func (p Path) IsDescendantOf(base Path) bool {
	return p.key != base.key && p.HasPrefix(base)
}

// Rel returns the segments of p below base joined as a key.
func (p Path) Rel(base Path) (BlobKey, error) {
	if !p.HasPrefix(base) {
		return "", &PathError{Op: "rel", Path: p.String(), Reason: "not under " + base.String()}
	}
	if base.key == "" {
		return p.key, nil
	}
	return strings.TrimPrefix(strings.TrimPrefix(p.key, base.key), Separator), nil
}

// Rebase moves p from under the from folder to the same relative location
// under the to folder.
func (p Path) Rebase(from, to Path) (Path, error) {
	rel, err := p.Rel(from)
	if err != nil {
		return Path{}, err
	}
	switch {
	case rel == "":
		return to, nil
	case to.key == "":
		return Path{key: rel}, nil
	}
	return Path{key: to.key + Separator + rel}, nil
}

// PlaceholderKey is the key of the blob that marks p as an existing folder.
func (p Path) PlaceholderKey() BlobKey {
	if p.key == "" {
		return PlaceholderName
	}
	return p.key + Separator + PlaceholderName
}

// IsPlaceholder reports whether p addresses a folder placeholder blob.
func (p Path) IsPlaceholder() bool {
	return p.Name() == PlaceholderName
}

// IsPlaceholderKey reports whether key is a folder placeholder.
func IsPlaceholderKey(key BlobKey) bool {
	return key == PlaceholderName || strings.HasSuffix(key, Separator+PlaceholderName)
}
