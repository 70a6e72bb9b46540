// Package key implements namespaced identifiers (`namespace:value`) used to name
// cookies and other registry entries on the wire.
package key

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultNamespace = "minecraft"
	// MaxLength bounds the text form of an identifier on the wire.
	MaxLength = 32767
)

var (
	ErrEmpty            = errors.New("key: empty")
	ErrInvalidNamespace = errors.New("key: invalid namespace")
	ErrInvalidValue     = errors.New("key: invalid value")
)

// Key is an immutable namespaced identifier. The zero value is not a valid key.
type Key struct {
	namespace string
	value     string
}

// New validates namespace and value.
func New(namespace, value string) (Key, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if value == "" {
		return Key{}, ErrEmpty
	}
	for i := 0; i < len(namespace); i++ {
		if !namespaceChar(namespace[i]) {
			return Key{}, fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
		}
	}
	for i := 0; i < len(value); i++ {
		if !valueChar(value[i]) {
			return Key{}, fmt.Errorf("%w: %q", ErrInvalidValue, value)
		}
	}
	return Key{namespace: namespace, value: value}, nil
}

// Parse reads `namespace:value`, or `value` in the default namespace.
func Parse(s string) (Key, error) {
	if s == "" {
		return Key{}, ErrEmpty
	}
	ns, v, ok := strings.Cut(s, ":")
	if !ok {
		return New(DefaultNamespace, s)
	}
	return New(ns, v)
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) Namespace() string { return k.namespace }
func (k Key) Value() string     { return k.value }
func (k Key) IsZero() bool      { return k.value == "" }

func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	return k.namespace + ":" + k.value
}

func namespaceChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == '.'
}

func valueChar(c byte) bool {
	return namespaceChar(c) || c == '/'
}
