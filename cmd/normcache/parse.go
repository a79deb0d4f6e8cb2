package main

import (
	"time"

	"github.com/hanpama/normcache/internal/language"
)

func newQueryDocument(raw string) (*language.QueryDocument, error) {
	return language.ParseQuery(raw)
}

func fixedNow() time.Time {
	return time.Now()
}
