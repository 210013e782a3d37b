// Package answers resolves identity challenge questions to their
// configured answers. The portal phrases questions with inconsistent
// whitespace, so lookups normalize before matching.
package answers

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no answer is configured for a question.
var ErrNotFound = errors.New("no answer configured for question")

// Resolver maps a challenge question to its answer.
type Resolver interface {
	Resolve(question string) (string, error)
}

// Store is a Resolver backed by a YAML document mapping question text
// to answers.
type Store struct {
	answers map[string]string
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// storeFile is the on-disk shape: a single "answers" map so the file
// can grow other sections later without breaking.
type storeFile struct {
	Answers map[string]string `yaml:"answers"`
}

// Load reads a YAML answer file from disk.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read answers file: %w", err)
	}
	return Parse(raw)
}

// Parse builds a Store from YAML bytes.
func Parse(raw []byte) (*Store, error) {
	var file storeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse answers file: %w", err)
	}
	if len(file.Answers) == 0 {
		return nil, errors.New("answers file has no answers section")
	}

	store := &Store{answers: make(map[string]string, len(file.Answers))}
	for question, answer := range file.Answers {
		store.answers[normalize(question)] = answer
	}
	return store, nil
}

// Resolve looks up the answer for a question. Matching ignores case,
// surrounding whitespace, and internal whitespace runs.
func (s *Store) Resolve(question string) (string, error) {
	answer, ok := s.answers[normalize(question)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, question)
	}
	return answer, nil
}

func normalize(question string) string {
	return strings.ToLower(whitespaceRun.ReplaceAllString(strings.TrimSpace(question), " "))
}

// Static wraps a plain map as a Resolver. Tests and single-run callers
// use it to avoid a file on disk.
type Static map[string]string

// Resolve implements Resolver.
func (m Static) Resolve(question string) (string, error) {
	for q, a := range m {
		if normalize(q) == normalize(question) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, question)
}
