package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Namespaces for the two cached layers.
const (
	NamespaceSummarize = "llm_summarize"
	NamespaceImage     = "imagen"
)

// KeyLen is the length of derived cache keys in hex characters.
const KeyLen = 32

// DeriveKey canonicalizes the input tuple, appends the model/version tag,
// and returns the truncated SHA-256 hex digest. Identical logical inputs
// always derive identical keys regardless of map ordering.
func DeriveKey(tag string, inputs map[string]any) string {
	h := sha256.New()
	h.Write([]byte(canonicalize(inputs)))
	h.Write([]byte("|"))
	h.Write([]byte(tag))
	return hex.EncodeToString(h.Sum(nil))[:KeyLen]
}

// SummarizeKey derives the cache key for llm.summarize results.
func SummarizeKey(reportText string, maxBullets, maxScriptChars int, model string, maxSections int) string {
	return DeriveKey(model, map[string]any{
		"report_text":      reportText,
		"max_bullets":      maxBullets,
		"max_script_chars": maxScriptChars,
		"max_sections":     maxSections,
	})
}

// ImageKey derives the cache key for image.generate results.
func ImageKey(prompt, aspect, size, model string, shared bool) string {
	return DeriveKey(model, map[string]any{
		"prompt": prompt,
		"aspect": aspect,
		"size":   size,
		"shared": shared,
	})
}

// canonicalize renders inputs as JSON with sorted keys and no insignificant
// whitespace.
func canonicalize(inputs map[string]any) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kj, _ := json.Marshal(k)
		vj, err := json.Marshal(inputs[k])
		if err != nil {
			vj = []byte(fmt.Sprintf("%q", fmt.Sprint(inputs[k])))
		}
		b.Write(kj)
		b.WriteByte(':')
		b.Write(vj)
	}
	b.WriteByte('}')
	return b.String()
}
