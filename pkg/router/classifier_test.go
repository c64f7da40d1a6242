package router

import (
	"math"
	"testing"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(
		[]string{"gmail", "ski", "notes"},
		map[string]AgentRule{
			"gmail": {
				Keywords: []string{"email", "inbox", "unread", "mail"},
				Patterns: []string{`(check|any new).*(email|inbox)`},
			},
			"ski": {
				Keywords: []string{"ski", "snow", "lift", "mountain"},
				Patterns: []string{`(ski|snow).*(condition|report)`},
			},
			"notes": {
				Keywords: []string{"list", "note", "remember"},
				Patterns: []string{`add .+ to .*list`},
			},
		},
	)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestClassifyKeywordScoring(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify("any new email in my inbox")
	best := got.Best()
	if best == nil || best.AgentName != "gmail" {
		t.Fatalf("best = %+v, want gmail", best)
	}
	// 2 keywords (0.4) + 1 pattern (0.3) = 0.7.
	if math.Abs(best.Score-0.7) > 1e-9 {
		t.Fatalf("score = %v, want 0.7", best.Score)
	}
}

func TestClassifyKeywordCap(t *testing.T) {
	c := newTestClassifier(t)

	// 4 keyword matches cap at 0.6.
	got := c.Classify("email mail inbox unread")
	if best := got.Best(); best == nil || best.Score != 0.6 {
		t.Fatalf("best = %+v, want gmail at 0.6", got.Best())
	}
}

func TestClassifyTotalCap(t *testing.T) {
	c, err := NewClassifier([]string{"ski"}, map[string]AgentRule{
		"ski": {
			Keywords: []string{"ski", "snow", "lift"},
			Patterns: []string{`ski`, `snow`, `lift`},
		},
	})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}

	got := c.Classify("ski snow lift")
	// Keywords cap at 0.6, patterns at 0.6; total caps at 1.0.
	if best := got.Best(); best == nil || best.Score != 1.0 {
		t.Fatalf("best = %+v, want 1.0", got.Best())
	}
}

func TestClassifyAmbiguity(t *testing.T) {
	c := newTestClassifier(t)

	// One keyword each: gmail 0.2, ski 0.2, gap 0 < margin.
	got := c.Classify("email about snow")
	if !got.Ambiguous {
		t.Fatalf("classification should be ambiguous: %+v", got.Ranked)
	}

	// Clear winner: gap >= margin.
	got = c.Classify("ski snow conditions report")
	if got.Ambiguous {
		t.Fatalf("classification should not be ambiguous: %+v", got.Ranked)
	}
}

func TestClassifyTiesKeepInsertionOrder(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify("email about snow")
	if len(got.Ranked) != 2 {
		t.Fatalf("len(ranked) = %d, want 2", len(got.Ranked))
	}
	// gmail precedes ski in the order slice.
	if got.Ranked[0].AgentName != "gmail" || got.Ranked[1].AgentName != "ski" {
		t.Fatalf("ranked = %v, %v; want gmail, ski", got.Ranked[0].AgentName, got.Ranked[1].AgentName)
	}
}

func TestClassifyZeroScoresOmitted(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify("what time is it")
	if len(got.Ranked) != 0 {
		t.Fatalf("ranked = %+v, want empty", got.Ranked)
	}
	if got.Best() != nil {
		t.Fatal("Best() should be nil for an empty ranking")
	}
}

func TestClassifyEmptyQuery(t *testing.T) {
	c := newTestClassifier(t)

	for _, q := range []string{"", "   "} {
		if got := c.Classify(q); len(got.Ranked) != 0 || got.Ambiguous {
			t.Fatalf("Classify(%q) = %+v, want empty", q, got)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := newTestClassifier(t)

	first := c.Classify("check my email and my list")
	for i := 0; i < 10; i++ {
		again := c.Classify("check my email and my list")
		if len(again.Ranked) != len(first.Ranked) {
			t.Fatal("ranking length changed between runs")
		}
		for j := range again.Ranked {
			if again.Ranked[j].AgentName != first.Ranked[j].AgentName ||
				again.Ranked[j].Score != first.Ranked[j].Score {
				t.Fatalf("run %d diverged at %d: %+v vs %+v", i, j, again.Ranked[j], first.Ranked[j])
			}
		}
	}
}

func TestNewClassifierRejectsBadPattern(t *testing.T) {
	_, err := NewClassifier([]string{"x"}, map[string]AgentRule{
		"x": {Patterns: []string{`([unclosed`}},
	})
	if err == nil {
		t.Fatal("invalid pattern should be a fatal configuration error")
	}
}

func TestKeywordMatchesWholeWordsOnly(t *testing.T) {
	c := newTestClassifier(t)

	// "mailbox" must not match the "mail" keyword.
	got := c.Classify("where is the mailbox key")
	for _, s := range got.Ranked {
		if s.AgentName == "gmail" {
			t.Fatalf("gmail matched on a substring: %+v", s)
		}
	}
}
