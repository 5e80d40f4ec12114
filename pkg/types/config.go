package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "research-desk/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// RetrievalConfig holds settings for the retrieval backends.
type RetrievalConfig struct {
	HTTPConfig `yaml:",inline"`

	// MaxResults is the maximum number of sources kept per query (default 5).
	MaxResults int `json:"max_results" yaml:"max_results"`

	// ContextBudget caps the source text, in characters, placed in one
	// prompt (default 8000).
	ContextBudget int `json:"context_budget" yaml:"context_budget"`

	// ContextChunks caps the passages kept for one prompt (default 8).
	ContextChunks int `json:"context_chunks" yaml:"context_chunks"`

	// EnableArxiv controls whether the arXiv backend is used.
	EnableArxiv bool `json:"enable_arxiv" yaml:"enable_arxiv"`

	// EnableSemanticScholar controls whether the Semantic Scholar backend is used.
	EnableSemanticScholar bool `json:"enable_semantic_scholar" yaml:"enable_semantic_scholar"`

	// EnableOpenAlex controls whether the OpenAlex backend is used.
	EnableOpenAlex bool `json:"enable_openalex" yaml:"enable_openalex"`

	// EnableLocal controls whether previously cached sources are searched.
	EnableLocal bool `json:"enable_local" yaml:"enable_local"`

	// CustomEndpoint is an optional POST retrieval endpoint returning
	// {docs: [{snippet, metadata: {external_link}}]}.
	CustomEndpoint string `json:"custom_endpoint,omitempty" yaml:"custom_endpoint,omitempty"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty"`

	// OpenAlexEmail is sent as mailto for the OpenAlex polite pool.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty"`
}

// GenerationBackend identifies the content generation provider.
type GenerationBackend string

const (
	GenerationClaude GenerationBackend = "claude"
	GenerationGemini GenerationBackend = "gemini"
)

// AIConfig holds settings for the content generation backend.
type AIConfig struct {
	// Backend selects the provider: claude or gemini.
	Backend GenerationBackend `json:"backend" yaml:"backend"`

	// Model is the default model identifier when a task does not name one.
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for failed calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// ExportConfig holds settings for the publish stage exporters.
type ExportConfig struct {
	// OutputDir is the base directory for published reports.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// PandocImage is the container image used for PDF and DOCX rendering.
	PandocImage string `json:"pandoc_image" yaml:"pandoc_image"`
}

// ServerConfig holds settings for the socket server.
type ServerConfig struct {
	// Addr is the listen address (default "127.0.0.1:8000").
	Addr string `json:"addr" yaml:"addr"`

	// WriteTimeout bounds a single frame write to a client.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// MaxConcurrency caps concurrent subtopic jobs per task (0 = unbounded).
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`
}

// StoreConfig holds settings for the document store.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `json:"path" yaml:"path"`
}

// Config groups all component configurations for the service.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`
	AI        AIConfig        `json:"ai" yaml:"ai"`
	Export    ExportConfig    `json:"export" yaml:"export"`
	Store     StoreConfig     `json:"store" yaml:"store"`
}
