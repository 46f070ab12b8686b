package media

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidURI = errors.New("invalid object storage URI")

// ObjectRef addresses one object as scheme://bucket/object.
type ObjectRef struct {
	Scheme string
	Bucket string
	Object string
}

func (r ObjectRef) String() string {
	return r.Scheme + "://" + r.Bucket + "/" + r.Object
}

var objectURIPattern = regexp.MustCompile(`^(gs|s3)://([a-z0-9][a-z0-9._-]{1,220}[a-z0-9])/(.+)$`)

func ParseObjectURI(uri string) (ObjectRef, error) {
	trimmed := strings.TrimSpace(uri)
	m := objectURIPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return ObjectRef{}, fmt.Errorf("%w: %q (expected gs://bucket/path)", ErrInvalidURI, uri)
	}
	if strings.HasSuffix(m[3], "/") {
		return ObjectRef{}, fmt.Errorf("%w: %q points at a prefix, not an object", ErrInvalidURI, uri)
	}
	return ObjectRef{Scheme: m[1], Bucket: m[2], Object: m[3]}, nil
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id is safe to use as a served file name.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
