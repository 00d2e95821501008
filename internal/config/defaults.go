package config

// DefaultAllowedExtensions lists the upload formats accepted out of the box.
var DefaultAllowedExtensions = []string{
	".pdf", ".docx", ".pptx", ".txt", ".md", ".markdown", ".html", ".rtf",
}

// Default returns a config populated with built-in defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "~/.local/share/oculith",
			LogDir:  "~/.local/share/oculith/logs",
			APIBind: "127.0.0.1:7710",
		},
		Queue: Queue{
			Workers:          3,
			MaxDepth:         64,
			SubscriberBuffer: 16,
		},
		Files: Files{
			MaxFileSizeMiB:    50,
			AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
			FetchTimeout:      60,
		},
		Chunking: Chunking{
			ChunkSize:    1200,
			ChunkOverlap: 120,
		},
		Embeddings: Embeddings{
			Provider:   "local",
			Model:      "nomic-embed-text",
			Dimensions: 384,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
