// Package codec serializes cache entries for stores that keep bytes.
package codec

import (
	"github.com/bytedance/sonic"

	fetchup "github.com/sleepcha/Fetchup"
)

// MarshalEntry encodes entry as JSON.
func MarshalEntry(entry *fetchup.CacheEntry) ([]byte, error) {
	return sonic.ConfigDefault.Marshal(entry)
}

// UnmarshalEntry decodes an entry written by MarshalEntry.
func UnmarshalEntry(data []byte) (*fetchup.CacheEntry, error) {
	var entry fetchup.CacheEntry
	if err := sonic.ConfigDefault.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
