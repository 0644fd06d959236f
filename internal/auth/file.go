package auth

import (
	"crypto/subtle"
	"fmt"

	"github.com/spf13/viper"
)

// FileAuthenticator accepts a CONNECT whose username/password match an
// entry loaded from the --auth config file (one of spec.md section 6's
// external collaborators: "username/password lookup is a pluggable
// predicate"). Entries are username=password pairs in the same key=value
// grammar internal/config uses for the broker config file.
type FileAuthenticator struct {
	passwords map[string][]byte
}

// LoadFile parses path as a username=password key=value file.
func LoadFile(path string) (*FileAuthenticator, error) {
	v := viper.New()
	v.SetConfigType("properties")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("auth: read file %s: %w", path, err)
	}
	entries := make(map[string][]byte)
	for _, key := range v.AllKeys() {
		entries[key] = []byte(v.GetString(key))
	}
	return &FileAuthenticator{passwords: entries}, nil
}

// Authenticate reports whether username is present with a matching
// password, compared in constant time.
func (f *FileAuthenticator) Authenticate(_, username string, password []byte) bool {
	want, ok := f.passwords[username]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(want, password) == 1
}
