package rewards

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// CODE ISSUER - Unique discount codes, issued inside the activation tx
// =============================================================================

const (
	DefaultCodePrefix = "SCOUT"

	// CodeAlphabet has no 0/O or 1/I so codes survive being read aloud.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	codeLength      = 6
	maxCodeAttempts = 8
)

type CodeIssuer struct {
	prefix string
	rand   io.Reader
}

func NewCodeIssuer(prefix string) *CodeIssuer {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	return &CodeIssuer{prefix: strings.ToUpper(prefix), rand: rand.Reader}
}

// Generate draws one candidate code. len(CodeAlphabet) divides 256, so
// taking each byte modulo the alphabet size is unbiased.
func (c *CodeIssuer) Generate() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	var b strings.Builder
	b.Grow(len(c.prefix) + 1 + codeLength)
	b.WriteString(c.prefix)
	b.WriteByte('-')
	for _, v := range buf {
		b.WriteByte(CodeAlphabet[int(v)%len(CodeAlphabet)])
	}
	return b.String(), nil
}

// issue returns a code no redemption has ever held. The uniqueness check
// runs in the caller's transaction; stores back it with a unique index.
func (c *CodeIssuer) issue(ctx context.Context, tx Tx) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := c.Generate()
		if err != nil {
			return "", err
		}
		taken, err := tx.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, maxCodeAttempts)
}

// ValidCode reports whether s has the shape of a code issued with prefix.
func ValidCode(prefix, s string) bool {
	rest, ok := strings.CutPrefix(s, strings.ToUpper(prefix)+"-")
	if !ok || len(rest) != codeLength {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return false
		}
	}
	return true
}
