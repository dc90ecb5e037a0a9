// Package limits centralizes validation and normalization of the remote
// resource paths and payloads handed to the transfer engine, so that every
// entry point rejects the same inputs with the same errors.
//
// # Resource Paths
//
// Remote file systems on the target devices are case-insensitive and only
// understand forward slashes. A path is normalized by trimming surrounding
// whitespace, converting backslashes to forward slashes, collapsing repeated
// separators and prefixing a single leading slash:
//
//	limits.NormalizeResourcePath(` lfs\\logs//boot.txt `) // "/lfs/logs/boot.txt"
//
// Paths are rejected when they are blank, contain control characters, end
// with a separator (they would name a directory), contain a ".." segment or
// exceed [MaxResourcePathLength]:
//
//	if err := limits.ValidateResourcePath(path); err != nil {
//	    return fmt.Errorf("bad path: %w", err)
//	}
//
// # Batches
//
// [NormalizeResourcePaths] validates a whole batch before touching any of it
// and drops case-insensitive duplicates, keeping the first spelling seen.
//
// # Error Handling
//
// All validation errors are sentinels wrapped with context, so callers test
// them with errors.Is:
//
//	if errors.Is(err, limits.ErrResourcePathEmpty) { ... }
package limits
