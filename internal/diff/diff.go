// Package diff computes line-level diffs between two revisions of a
// content section using the sergi/go-diff library. Section-level
// changed/unchanged status is decided by exact equality elsewhere; the
// hunks produced here are advisory detail for review surfaces.
package diff

import (
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType classifies one line of a diff.
type LineType int

const (
	LineContext LineType = iota
	LineAdded
	LineRemoved
)

// Line is a single line in a hunk.
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk is a contiguous group of changed lines with surrounding context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// TextDiff is the line-level diff of one section's text.
type TextDiff struct {
	Hunks []Hunk
}

// Changed reports whether the diff contains any changes.
func (d *TextDiff) Changed() bool {
	return len(d.Hunks) > 0
}

// Engine computes diffs, caching results for identical input pairs.
type Engine struct {
	dmp   *diffmatchpatch.DiffMatchPatch
	cache sync.Map
}

type cacheKey struct {
	oldHash uint64
	newHash uint64
}

// contextLines is how much unchanged context each hunk carries.
const contextLines = 2

// NewEngine creates a diff engine. Timeout is disabled: section copy is
// short and accuracy matters more than latency here.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &Engine{dmp: dmp}
}

// Compute diffs oldText against newText line by line.
func (e *Engine) Compute(oldText, newText string) *TextDiff {
	key := cacheKey{oldHash: fnv1a(oldText), newHash: fnv1a(newText)}
	if cached, ok := e.cache.Load(key); ok {
		if d, ok := cached.(*TextDiff); ok {
			return d
		}
	}

	// Line-level reduction avoids newline boundary artifacts when
	// converting character diffs back to line operations.
	a, b, lineArray := e.dmp.DiffLinesToChars(oldText, newText)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	result := &TextDiff{Hunks: groupHunks(toOperations(diffs))}
	e.cache.Store(key, result)
	return result
}

// ClearCache drops all cached diffs.
func (e *Engine) ClearCache() {
	e.cache = sync.Map{}
}

// operation is a single line operation before hunk grouping.
type operation struct {
	typ     LineType
	oldLine int
	newLine int
	content string
}

func toOperations(diffs []diffmatchpatch.Diff) []operation {
	var ops []operation
	oldLine, newLine := 0, 0

	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}

		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, operation{typ: LineContext, oldLine: oldLine, newLine: newLine, content: line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, operation{typ: LineRemoved, oldLine: oldLine, newLine: -1, content: line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, operation{typ: LineAdded, oldLine: -1, newLine: newLine, content: line})
				newLine++
			}
		}
	}
	return ops
}

func groupHunks(ops []operation) []Hunk {
	if len(ops) == 0 {
		return nil
	}

	var hunks []Hunk
	var current *Hunk
	lastChange := -1

	for i, op := range ops {
		if op.typ != LineContext {
			if current == nil {
				current = &Hunk{}
				start := i - contextLines
				if start < 0 {
					start = 0
				}
				for j := start; j < i; j++ {
					current.Lines = append(current.Lines, Line{
						LineNum: ops[j].oldLine + 1,
						Content: ops[j].content,
						Type:    LineContext,
					})
				}
				current.OldStart = maxInt(ops[start].oldLine+1, 1)
				current.NewStart = maxInt(ops[start].newLine+1, 1)
			}
			lastChange = i
		}

		if current == nil {
			continue
		}

		lineNum := op.oldLine + 1
		if op.typ == LineAdded {
			lineNum = op.newLine + 1
		}
		current.Lines = append(current.Lines, Line{LineNum: lineNum, Content: op.content, Type: op.typ})

		// Close the hunk once trailing context exceeds the window.
		if op.typ == LineContext && i-lastChange >= contextLines {
			finishHunk(current)
			hunks = append(hunks, *current)
			current = nil
		}
	}

	if current != nil {
		finishHunk(current)
		hunks = append(hunks, *current)
	}
	return hunks
}

func finishHunk(h *Hunk) {
	for _, line := range h.Lines {
		if line.Type != LineAdded {
			h.OldCount++
		}
		if line.Type != LineRemoved {
			h.NewCount++
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// fnv1a hashes for the diff cache.
func fnv1a(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
