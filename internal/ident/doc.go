// Package ident normalizes media references into stable media identities.
//
// A reference may be a watch-page URL, a bare video ID, a local file path,
// or a playlist URL. The derived identity keys the segment cache and the
// single-flight guard in the pipeline, so normalization must be total and
// deterministic: the same input always yields the same identity.
package ident
