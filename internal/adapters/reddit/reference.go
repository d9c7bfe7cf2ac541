package reddit

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var postIDPattern = regexp.MustCompile(`^[a-z0-9]{1,16}$`)

// PostIDFromReference extracts the base-36 post ID from a permalink, a redd.it
// short link, a t3_ fullname or a bare ID.
func PostIDFromReference(reference string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", fmt.Errorf("empty post reference")
	}

	if id, ok := strings.CutPrefix(ref, "t3_"); ok {
		return validID(reference, id)
	}
	if !strings.Contains(ref, "/") {
		return validID(reference, ref)
	}

	if !strings.Contains(ref, "://") {
		ref = "https://" + strings.TrimPrefix(ref, "//")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing post reference `%s`: %w", reference, err)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, segment := range segments {
		if segment == "comments" && i+1 < len(segments) {
			return validID(reference, segments[i+1])
		}
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "redd.it" && len(segments) == 1 {
		return validID(reference, segments[0])
	}

	return "", fmt.Errorf("no post id in reference `%s`", reference)
}

func validID(reference, id string) (string, error) {
	id = strings.ToLower(id)
	if !postIDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid post id `%s` in reference `%s`", id, reference)
	}
	return id, nil
}
