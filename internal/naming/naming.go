// Package naming maps human-readable field names to the machine-safe tokens used
// by the optimization engine and back.
//
// Sanitize and Unsanitize are plain string transforms and are not inverses: a
// name that contains an underscore, or two names that differ only in
// whitespace, do not survive the round trip. Codec avoids the problem by
// remembering the human name each token was built from.
package naming

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	multiSpace    = regexp.MustCompile(`\s{2,}`)
)

// Sanitize trims name and collapses every whitespace run to a single underscore.
func Sanitize(name string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
}

// Unsanitize replaces underscores with spaces, collapses repeated whitespace
// and trims the result.
func Unsanitize(token string) string {
	name := strings.ReplaceAll(token, "_", " ")
	return strings.TrimSpace(multiSpace.ReplaceAllString(name, " "))
}

// CollisionError reports two distinct human names that sanitize to one token.
type CollisionError struct {
	Token    string
	Existing string
	Incoming string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("names %q and %q both sanitize to %q", e.Existing, e.Incoming, e.Token)
}

// Codec is a two-way lookup table between human names and tokens. The zero
// value is not usable; call NewCodec.
type Codec struct {
	toToken map[string]string
	toHuman map[string]string
	order   []string
}

// NewCodec returns an empty Codec.
func NewCodec() *Codec {
	return &Codec{
		toToken: make(map[string]string),
		toHuman: make(map[string]string),
	}
}

// Register adds human to the table and returns its token. Registering the same
// human name twice is a no-op. A different name that maps to an already owned
// token yields a *CollisionError.
func (c *Codec) Register(human string) (string, error) {
	token := Sanitize(human)
	if token == "" {
		return "", fmt.Errorf("name %q is empty after sanitization", human)
	}
	if existing, ok := c.toHuman[token]; ok {
		if existing == human {
			return token, nil
		}
		return "", &CollisionError{Token: token, Existing: existing, Incoming: human}
	}
	c.toHuman[token] = human
	c.toToken[human] = token
	c.order = append(c.order, token)
	return token, nil
}

// Token returns the token registered for human.
func (c *Codec) Token(human string) (string, bool) {
	t, ok := c.toToken[human]
	return t, ok
}

// Human returns the human name token was registered from, falling back to
// Unsanitize for tokens the table has never seen.
func (c *Codec) Human(token string) string {
	if h, ok := c.toHuman[token]; ok {
		return h
	}
	return Unsanitize(token)
}

// Has reports whether token is registered.
func (c *Codec) Has(token string) bool {
	_, ok := c.toHuman[token]
	return ok
}

// Tokens returns the registered tokens in registration order.
func (c *Codec) Tokens() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of registered names.
func (c *Codec) Len() int {
	return len(c.order)
}
