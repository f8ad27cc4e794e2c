// Package relindex derives the package/media relationships that are stored
// only as source URLs on packages.
package relindex

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/repository/document"
)

// Reason explains why a package source URL is not in the index.
type Reason string

const (
	ReasonUnmatched Reason = "unmatched"
	ReasonAmbiguous Reason = "ambiguous"
	ReasonInvalid   Reason = "invalid_url"
)

// Unmatched is a package source URL that could not be resolved to one media.
type Unmatched struct {
	Package    string   `json:"package"`
	URL        string   `json:"url"`
	Reason     Reason   `json:"reason"`
	Candidates []string `json:"candidates,omitempty"`
}

// Snapshot is an immutable view of the index. Readers may share it freely.
type Snapshot struct {
	mediaByPackage  map[string][]string
	packagesByMedia map[string][]string
	unmatched       []Unmatched
	builtAt         time.Time
	generation      uint64
	mediaCount      int
	packageCount    int
}

// MediaReferencedBy returns the media ids a package references, in the order
// the package lists its sources.
func (s *Snapshot) MediaReferencedBy(packageID string) []string {
	return append([]string(nil), s.mediaByPackage[packageID]...)
}

// PackagesReferencing returns the ids of packages referencing a media, sorted.
func (s *Snapshot) PackagesReferencing(mediaID string) []string {
	return append([]string(nil), s.packagesByMedia[mediaID]...)
}

// Unmatched returns the source URLs left out of the index.
func (s *Snapshot) Unmatched() []Unmatched {
	out := make([]Unmatched, len(s.unmatched))
	for i, u := range s.unmatched {
		u.Candidates = append([]string(nil), u.Candidates...)
		out[i] = u
	}
	return out
}

// BuiltAt reports when the snapshot was computed.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Counts returns how many media and packages the snapshot was built from.
func (s *Snapshot) Counts() (media, packages int) {
	return s.mediaCount, s.packageCount
}

// Build computes a snapshot from the full media and package collections.
func Build(media, packages []document.Document) *Snapshot {
	byURL := make(map[string][]string)
	for _, m := range media {
		id := document.Key(query.CollectionMedia, m)
		if id == "" {
			continue
		}
		for _, raw := range document.FieldValues(query.CollectionMedia, m, query.FieldURL) {
			u, err := NormalizeURL(raw)
			if err != nil {
				continue
			}
			byURL[u] = appendUnique(byURL[u], id)
		}
	}
	for u := range byURL {
		sort.Strings(byURL[u])
	}

	s := &Snapshot{
		mediaByPackage:  make(map[string][]string),
		packagesByMedia: make(map[string][]string),
		builtAt:         time.Now(),
		mediaCount:      len(media),
		packageCount:    len(packages),
	}
	for _, p := range packages {
		pkgID := document.Key(query.CollectionPackage, p)
		if pkgID == "" {
			continue
		}
		for _, raw := range document.FieldValues(query.CollectionPackage, p, query.FieldSources) {
			u, err := NormalizeURL(raw)
			if err != nil {
				s.unmatched = append(s.unmatched, Unmatched{Package: pkgID, URL: raw, Reason: ReasonInvalid})
				continue
			}
			candidates := byURL[u]
			switch len(candidates) {
			case 0:
				s.unmatched = append(s.unmatched, Unmatched{Package: pkgID, URL: raw, Reason: ReasonUnmatched})
			case 1:
				mediaID := candidates[0]
				s.mediaByPackage[pkgID] = appendUnique(s.mediaByPackage[pkgID], mediaID)
				s.packagesByMedia[mediaID] = appendUnique(s.packagesByMedia[mediaID], pkgID)
			default:
				s.unmatched = append(s.unmatched, Unmatched{
					Package:    pkgID,
					URL:        raw,
					Reason:     ReasonAmbiguous,
					Candidates: append([]string(nil), candidates...),
				})
			}
		}
	}
	for m := range s.packagesByMedia {
		sort.Strings(s.packagesByMedia[m])
	}
	return s
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// NormalizeURL canonicalizes a media URL for matching: scheme and host are
// lowercased, default ports, fragments and a trailing slash are removed.
// Query strings are kept as-is.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); port != "" && defaultPorts[u.Scheme] == port {
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	} else if u.Path == "/" {
		u.Path = ""
	}
	return u.String(), nil
}
