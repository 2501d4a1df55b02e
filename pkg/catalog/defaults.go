package catalog

import "github.com/fluxorio/fluxtools/pkg/envelope"

// Categories of the built-in entries.
const (
	CategoryCrypto     = "Cryptography"
	CategoryText       = "Text"
	CategoryEncoding   = "Encoding"
	CategoryFormatting = "Formatting"
	CategoryGenerators = "Generators"
	CategoryReference  = "Reference"
)

// Defaults returns the built-in tools and cheat-sheets.
func Defaults() []Entry {
	return []Entry{
		{
			ID: "hash-generator", Name: "Hash Generator", Kind: KindTool, Category: CategoryCrypto,
			Description: "Compute MD5, SHA-1, SHA-2, SHA-3 and BLAKE2b digests of text or files.",
			Tags:        []string{"md5", "sha256", "sha512", "checksum", "digest"},
			Operation:   envelope.OpHashText,
		},
		{
			ID: "file-checksum", Name: "File Checksum", Kind: KindTool, Category: CategoryCrypto,
			Description: "Verify downloads by hashing the raw bytes of a file.",
			Tags:        []string{"checksum", "integrity", "binary"},
			Operation:   envelope.OpHashFile,
		},
		{
			ID: "diff-checker", Name: "Diff Checker", Kind: KindTool, Category: CategoryText,
			Description: "Compare two texts line by line and character by character.",
			Tags:        []string{"diff", "compare", "patch"},
			Operation:   envelope.OpDiffCompare,
		},
		{
			ID: "base64", Name: "Base64 Encoder/Decoder", Kind: KindTool, Category: CategoryEncoding,
			Description: "Encode and decode Base64 text.",
			Tags:        []string{"base64", "encode", "decode"},
		},
		{
			ID: "url-encoder", Name: "URL Encoder/Decoder", Kind: KindTool, Category: CategoryEncoding,
			Description: "Percent-encode and decode URL components.",
			Tags:        []string{"url", "percent", "encode"},
		},
		{
			ID: "json-formatter", Name: "JSON Formatter", Kind: KindTool, Category: CategoryFormatting,
			Description: "Pretty-print, minify and validate JSON.",
			Tags:        []string{"json", "format", "validate"},
		},
		{
			ID: "yaml-json", Name: "YAML to JSON", Kind: KindTool, Category: CategoryFormatting,
			Description: "Convert between YAML and JSON documents.",
			Tags:        []string{"yaml", "json", "convert"},
		},
		{
			ID: "uuid-generator", Name: "UUID Generator", Kind: KindTool, Category: CategoryGenerators,
			Description: "Generate random version 4 UUIDs.",
			Tags:        []string{"uuid", "guid", "random"},
		},
		{
			ID: "git-cheatsheet", Name: "Git Cheat Sheet", Kind: KindCheatSheet, Category: CategoryReference,
			Description: "Everyday git commands for branching, rebasing and undoing mistakes.",
			Tags:        []string{"git", "vcs"},
		},
		{
			ID: "regex-cheatsheet", Name: "Regex Cheat Sheet", Kind: KindCheatSheet, Category: CategoryReference,
			Description: "Character classes, anchors, groups and lookarounds.",
			Tags:        []string{"regex", "regexp", "pattern"},
		},
		{
			ID: "http-status-cheatsheet", Name: "HTTP Status Codes", Kind: KindCheatSheet, Category: CategoryReference,
			Description: "Meaning of the common 1xx to 5xx status codes.",
			Tags:        []string{"http", "status"},
		},
	}
}
