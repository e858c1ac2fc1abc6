package vectorcache

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"
)

// EmbeddingsDirName is the directory holding vector files inside a namespace (and
// inside the legacy flat layout).
const EmbeddingsDirName = "embeddings"

// NamespaceDir returns the directory name of a model's namespace under the cache
// root. Names made only of [A-Za-z0-9._-] are used as-is; anything else (such as
// "openai/clip-vit-base-patch32") is sanitized and suffixed with a short hash of
// the original so two models never share a directory.
func NamespaceDir(model string) string {
	var b strings.Builder
	for _, r := range model {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == model && !reservedName(name) {
		return name
	}
	sum := sha256.Sum256([]byte(model))
	return name + "-" + hex.EncodeToString(sum[:4])
}

// reservedName reports names that would collide with the legacy layout or the
// directory itself.
func reservedName(name string) bool {
	switch strings.ToLower(name) {
	case ".", "..", EmbeddingsDirName:
		return true
	}
	return strings.HasPrefix(strings.ToLower(name), "manifest.")
}

var namespaceLocks sync.Map // absolute namespace dir -> *sync.Mutex

// namespaceLock returns the process-wide mutex guarding manifest read-modify-write
// cycles for dir, shared by every handle opened on it.
func namespaceLock(dir string) *sync.Mutex {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	mu, _ := namespaceLocks.LoadOrStore(abs, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
