// Package canon fingerprints free text so the same underlying fact can be
// recognized across runs, sources and target fields.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/factbase/internal/model"
)

// HashLen is the length of a canonical hash in hex characters.
const HashLen = 16

// KindFinding is the hash kind used for diagnostic findings.
const KindFinding = "finding"

// Normalize folds case, applies NFKC and collapses whitespace runs to a
// single space with leading and trailing whitespace removed.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = cases.Fold().String(text)
	return strings.Join(strings.Fields(text), " ")
}

// Hash returns a 16-hex-char fingerprint of text under groupKey and kind.
// The group key and kind are part of the hashed input, so identical text in
// a different group or of a different kind hashes differently. Both are
// length-prefixed so a separator inside either cannot shift the boundaries.
func Hash(text, groupKey, kind string) string {
	input := strconv.Itoa(len(kind)) + ":" + kind + "|" +
		strconv.Itoa(len(groupKey)) + ":" + groupKey + "|" + Normalize(text)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:HashLen/2])
}

// FindingHash fingerprints a finding by title and description, grouped by
// category.
func FindingHash(f model.Finding) string {
	return Hash(f.Title+" "+f.Description, Normalize(f.Category), KindFinding)
}

// Valid reports whether h looks like a canonical hash.
func Valid(h string) bool {
	if len(h) != HashLen {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
