package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateBooks_UniqueAndValid(t *testing.T) {
	books := generateBooks(rand.New(rand.NewSource(1)), 200)
	assert.Len(t, books, 200)

	seen := make(map[string]bool, len(books))
	for _, b := range books {
		assert.False(t, seen[b.Title], "duplicate title %q", b.Title)
		seen[b.Title] = true
		assert.GreaterOrEqual(t, b.CopiesTotal, 1)
		assert.NotEmpty(t, b.Category)
	}
}

func TestStarterShelf_TitlesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, b := range starterShelf {
		assert.False(t, seen[b.Title], b.Title)
		seen[b.Title] = true
	}
}
