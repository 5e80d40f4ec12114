// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Source is one retrieved document: where it came from and its raw text.
type Source struct {
	// URL locates the source (web page, DOI link, arXiv abstract page).
	URL string `json:"url" yaml:"url"`

	// Title is the document title when the backend provides one.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// RawText is the retrieved body or abstract.
	RawText string `json:"raw_content" yaml:"raw_content"`

	// Backend names the retrieval backend that produced the source.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
}
