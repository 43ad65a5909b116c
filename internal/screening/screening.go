// Package screening checks subjects against sanctions and politically exposed
// person lists.
package screening

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/bits-and-blooms/bloom/v3"
	"gopkg.in/yaml.v3"
)

//go:generate mockgen -source=screening.go -destination=mocks/mocks.go -package=mocks Screener

type Status string

const (
	StatusNoMatch        Status = "NO_MATCH"
	StatusPotentialMatch Status = "POTENTIAL_MATCH"
	StatusConfirmedMatch Status = "CONFIRMED_MATCH"
)

// Subject is the person or company being screened.
type Subject struct {
	Name        string
	DateOfBirth string
	Country     string
}

// Result is the outcome of one list lookup.
type Result struct {
	List    string   `json:"list"`
	Status  Status   `json:"status"`
	Matched []string `json:"matched,omitempty"`
}

// Screener runs the sanctions and PEP lookups.
type Screener interface {
	Sanctions(ctx context.Context, subject Subject) (Result, error)
	PEP(ctx context.Context, subject Subject) (Result, error)
}

// Entry is one listed person or organisation.
type Entry struct {
	Name        string   `yaml:"name"`
	Aliases     []string `yaml:"aliases"`
	DateOfBirth string   `yaml:"dateOfBirth"`
	Country     string   `yaml:"country"`
}

// Lists is the YAML document the list screener is loaded from.
type Lists struct {
	Sanctions []Entry `yaml:"sanctions"`
	PEP       []Entry `yaml:"pep"`
}

// LoadLists reads a YAML list document. An empty path yields empty lists.
func LoadLists(path string) (Lists, error) {
	var lists Lists
	if path == "" {
		return lists, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return lists, fmt.Errorf("read screening lists: %w", err)
	}
	if err := yaml.Unmarshal(data, &lists); err != nil {
		return lists, fmt.Errorf("parse screening lists: %w", err)
	}
	return lists, nil
}

// list indexes entries by normalized name. The bloom filter answers most
// lookups for unlisted names without touching the index.
type list struct {
	name    string
	filter  *bloom.BloomFilter
	entries map[string][]Entry
}

const falsePositiveRate = 0.001

func newList(name string, entries []Entry) *list {
	l := &list{
		name:    name,
		filter:  bloom.NewWithEstimates(uint(max(len(entries)*2, 16)), falsePositiveRate),
		entries: make(map[string][]Entry),
	}
	for _, e := range entries {
		for _, n := range append([]string{e.Name}, e.Aliases...) {
			key := Normalize(n)
			if key == "" {
				continue
			}
			l.filter.AddString(key)
			l.entries[key] = append(l.entries[key], e)
		}
	}
	return l
}

// lookup reports CONFIRMED_MATCH when a listed name also matches the date of
// birth, POTENTIAL_MATCH on a name match alone.
func (l *list) lookup(s Subject) Result {
	res := Result{List: l.name, Status: StatusNoMatch}
	key := Normalize(s.Name)
	if key == "" || !l.filter.TestString(key) {
		return res
	}
	for _, e := range l.entries[key] {
		res.Matched = append(res.Matched, e.Name)
		if e.DateOfBirth != "" && e.DateOfBirth == strings.TrimSpace(s.DateOfBirth) {
			res.Status = StatusConfirmedMatch
		} else if res.Status != StatusConfirmedMatch {
			res.Status = StatusPotentialMatch
		}
	}
	return res
}

// ListScreener screens against in-memory lists.
type ListScreener struct {
	sanctions *list
	pep       *list
}

func NewListScreener(lists Lists) *ListScreener {
	return &ListScreener{
		sanctions: newList("sanctions", lists.Sanctions),
		pep:       newList("pep", lists.PEP),
	}
}

func (s *ListScreener) Sanctions(ctx context.Context, subject Subject) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return s.sanctions.lookup(subject), nil
}

func (s *ListScreener) PEP(ctx context.Context, subject Subject) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return s.pep.lookup(subject), nil
}

// Normalize folds case, drops punctuation and sorts name tokens so that
// "DOE, John" and "john doe" compare equal.
func Normalize(name string) string {
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
