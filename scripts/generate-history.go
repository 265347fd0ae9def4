//go:build ignore

// Package main generates a synthetic browsing history for load testing.
// Usage: go run scripts/generate-history.go -pages 5000 | pagesearch index --jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"
)

var (
	numPages = flag.Int("pages", 1000, "Number of page visits to generate")
	output   = flag.String("output", "-", "Output file (- for stdout)")
	seed     = flag.Int64("seed", 42, "Random seed for reproducibility")
	days     = flag.Int("days", 365, "Spread visits over this many past days")
)

type record struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	VisitedAt time.Time `json:"visited_at"`
}

type topic struct {
	host     string
	subjects []string
	phrases  []string
}

var topics = []topic{
	{
		host:     "docs.example.dev",
		subjects: []string{"goroutines", "channels", "generics", "interfaces", "modules", "testing"},
		phrases: []string{
			"The %s guide walks through idiomatic patterns with runnable examples.",
			"Common mistakes with %s include leaking resources and ignoring errors.",
			"This section compares %s across recent language releases.",
		},
	},
	{
		host:     "recipes.example.com",
		subjects: []string{"sourdough", "ramen", "risotto", "kimchi", "focaccia", "curry"},
		phrases: []string{
			"A weeknight %s recipe that needs one pot and forty minutes.",
			"Readers rate this %s highly for its balance of salt and acid.",
			"Store leftover %s in the fridge for up to three days.",
		},
	},
	{
		host:     "news.example.org",
		subjects: []string{"elections", "climate", "markets", "space launches", "transit", "housing"},
		phrases: []string{
			"Analysts expect %s to dominate coverage through the next quarter.",
			"A new report on %s draws on data from forty countries.",
			"Local officials held a briefing on %s this morning.",
		},
	},
	{
		host:     "trails.example.net",
		subjects: []string{"alpine lakes", "coastal bluffs", "desert canyons", "old-growth forest", "volcanic ridges"},
		phrases: []string{
			"The loop through %s gains little elevation and suits families.",
			"Permits are required for overnight stays near %s.",
			"Late summer is the best season to visit %s.",
		},
	},
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	out := os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	now := time.Now().UTC().Truncate(time.Second)
	span := time.Duration(*days) * 24 * time.Hour

	for i := 0; i < *numPages; i++ {
		t := topics[rng.Intn(len(topics))]
		subject := t.subjects[rng.Intn(len(t.subjects))]

		// Revisits reuse a small set of slugs per subject.
		slug := fmt.Sprintf("%s-%d", strings.ReplaceAll(subject, " ", "-"), rng.Intn(8))
		rec := record{
			URL:       fmt.Sprintf("https://%s/%s", t.host, slug),
			Title:     fmt.Sprintf("%s: notes %d", strings.ToUpper(subject[:1])+subject[1:], rng.Intn(100)),
			Text:      paragraph(rng, t, subject),
			VisitedAt: now.Add(-time.Duration(rng.Int63n(int64(span)))),
		}
		if err := enc.Encode(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Generated %d page visits\n", *numPages)
}

func paragraph(rng *rand.Rand, t topic, subject string) string {
	n := 3 + rng.Intn(12)
	sentences := make([]string, n)
	for i := range sentences {
		sentences[i] = fmt.Sprintf(t.phrases[rng.Intn(len(t.phrases))], subject)
	}
	return strings.Join(sentences, " ")
}
