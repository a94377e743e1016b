package ident

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// ErrInvalidReference reports a media reference that cannot be resolved to
// a media identity. It fails fast and is never retried.
var ErrInvalidReference = errors.New("invalid media reference")

// Kind classifies how a media reference should be submitted.
type Kind string

const (
	// KindRemote is a watch-page or direct media URL.
	KindRemote Kind = "remote"
	// KindFile is a locally supplied media file uploaded to the service.
	KindFile Kind = "file"
	// KindPlaylist is a collection reference submitted as a batch.
	KindPlaylist Kind = "playlist"
)

// MediaRef is a parsed, normalized media reference.
type MediaRef struct {
	Kind Kind
	// ID is the stable media identity used for caching and single-flight.
	ID string
	// Source is the original URL or absolute file path handed to the service.
	Source string
}

var watchIDPattern = regexp.MustCompile(`(?:v=|/videos/|embed/|youtu\.be/|/v/|/e/|watch\?v=|&v=)([^#&?\n/]+)`)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)

// Parse normalizes a raw media reference. Accepted forms: http(s) URLs
// (playlist URLs are detected by a list parameter or /playlist path),
// existing local file paths, and bare video IDs.
func Parse(raw string) (MediaRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MediaRef{}, fmt.Errorf("%w: empty reference", ErrInvalidReference)
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return parseURL(raw)
	}

	if looksLikePath(raw) {
		return parseFile(raw)
	}

	if videoIDPattern.MatchString(raw) {
		return MediaRef{Kind: KindRemote, ID: raw, Source: raw}, nil
	}

	return MediaRef{}, fmt.Errorf("%w: %q is not a URL, file, or video ID", ErrInvalidReference, raw)
}

func parseURL(raw string) (MediaRef, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return MediaRef{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if parsed.Host == "" {
		return MediaRef{}, fmt.Errorf("%w: URL %q has no host", ErrInvalidReference, raw)
	}

	if isPlaylist(parsed) {
		return MediaRef{Kind: KindPlaylist, ID: playlistID(parsed), Source: raw}, nil
	}

	return MediaRef{Kind: KindRemote, ID: VideoID(raw), Source: raw}, nil
}

func parseFile(raw string) (MediaRef, error) {
	info, err := os.Stat(raw)
	if err != nil {
		return MediaRef{}, fmt.Errorf("%w: stat %q: %v", ErrInvalidReference, raw, err)
	}
	if info.IsDir() {
		return MediaRef{}, fmt.Errorf("%w: %q is a directory", ErrInvalidReference, raw)
	}
	return MediaRef{Kind: KindFile, ID: hashID(raw), Source: raw}, nil
}

func looksLikePath(raw string) bool {
	return strings.ContainsAny(raw, "/\\") || strings.HasPrefix(raw, ".") || strings.HasPrefix(raw, "~")
}

func isPlaylist(u *url.URL) bool {
	if u.Query().Get("list") != "" && u.Query().Get("v") == "" {
		return true
	}
	return strings.Contains(u.Path, "/playlist")
}

func playlistID(u *url.URL) string {
	if list := u.Query().Get("list"); list != "" {
		return list
	}
	return hashID(u.String())
}

// VideoID extracts the stable video identity from a watch URL. URLs that
// match no known watch pattern fall back to a digest of the full URL, so
// arbitrary direct-media links still get a deterministic identity.
func VideoID(rawURL string) string {
	if match := watchIDPattern.FindStringSubmatch(rawURL); len(match) == 2 && match[1] != "" {
		return match[1]
	}
	return hashID(rawURL)
}

func hashID(value string) string {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])[:11]
}
