package notes

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/clarvis-ai/clarvis/pkg/agent"
)

// Agent manages notes, lists, and reminders. Queries are parsed lexically;
// the agent never calls out to an LLM, so responses are immediate and
// deterministic.
type Agent struct {
	storage *Storage
}

// New creates the notes agent on top of storage.
func New(storage *Storage) *Agent {
	return &Agent{storage: storage}
}

func (a *Agent) Name() string {
	return "notes"
}

func (a *Agent) Description() string {
	return "Manage notes, lists, and reminders"
}

func (a *Agent) Capabilities() []agent.Capability {
	return []agent.Capability{
		{
			Name:        "list_management",
			Description: "Create lists and add or remove items",
			Keywords:    []string{"list", "shopping", "grocery", "todo", "add", "remove"},
			Examples:    []string{"Add milk to my shopping list", "What's on my grocery list?"},
		},
		{
			Name:        "notes",
			Description: "Save and recall free-form notes",
			Keywords:    []string{"note", "notes", "remember", "wrote"},
			Examples:    []string{"Remember that the gate code is 4821", "Read my notes"},
		},
		{
			Name:        "reminders",
			Description: "Store simple reminders",
			Keywords:    []string{"remind", "reminder", "reminders"},
			Examples:    []string{"Remind me to water the plants"},
		},
	}
}

func (a *Agent) HealthCheck(ctx context.Context) bool {
	_, err := a.storage.ListNotes("")
	return err == nil
}

var (
	addRe      = regexp.MustCompile(`(?i)^add\s+(.+?)\s+to\s+(?:my\s+)?(.+?)(?:\s+list)?[.!?]*$`)
	removeRe   = regexp.MustCompile(`(?i)^(?:remove|delete|take)\s+(.+?)\s+(?:from|off)\s+(?:my\s+)?(.+?)(?:\s+list)?[.!?]*$`)
	readRe     = regexp.MustCompile(`(?i)^(?:what(?:'s| is) (?:on|in)|read|show|show me|tell me)\s+(?:my\s+)?(.+?)(?:\s+list)?[.!?]*$`)
	clearRe    = regexp.MustCompile(`(?i)^(?:clear|empty)\s+(?:my\s+)?(.+?)(?:\s+list)?[.!?]*$`)
	createRe   = regexp.MustCompile(`(?i)^(?:create|make|start)\s+(?:a\s+)?(?:new\s+)?list\s+(?:called|named)\s+(.+?)[.!?]*$`)
	deleteRe   = regexp.MustCompile(`(?i)^delete\s+(?:my\s+)?(.+?)(?:\s+(?:list|note))?[.!?]*$`)
	remindRe   = regexp.MustCompile(`(?i)^remind me\s+(?:to\s+)?(.+?)[.!?]*$`)
	rememberRe = regexp.MustCompile(`(?i)^(?:remember|note)\s+(?:that\s+)?(.+?)[.!?]*$`)
	listAllRe  = regexp.MustCompile(`(?i)^(?:list|what are)\s+(?:my\s+)?(?:notes|lists)[.!?]*$`)
)

// Process parses the query into a storage operation and reports the result
// in a voice-friendly sentence.
func (a *Agent) Process(ctx context.Context, query string, conv agent.Conversation) (*agent.Response, error) {
	text, err := a.handle(strings.TrimSpace(query))
	if err != nil {
		return &agent.Response{
			Content:   fmt.Sprintf("I couldn't do that: %s.", userError(err)),
			Success:   false,
			AgentName: a.Name(),
			Error:     err.Error(),
		}, nil
	}
	return &agent.Response{
		Content:   text,
		Success:   true,
		AgentName: a.Name(),
	}, nil
}

// Stream yields the buffered response as a single chunk.
func (a *Agent) Stream(ctx context.Context, query string, conv agent.Conversation) (<-chan agent.Chunk, error) {
	return agent.OneShotStream(ctx, a, query, conv)
}

func (a *Agent) handle(query string) (string, error) {
	switch {
	case listAllRe.MatchString(query):
		return a.listAll()

	case createRe.MatchString(query):
		m := createRe.FindStringSubmatch(query)
		note, err := a.storage.CreateNote(titleCase(m[1]), TypeList, "", nil)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Created the %s list.", note.Title), nil

	case addRe.MatchString(query):
		m := addRe.FindStringSubmatch(query)
		items := splitItems(m[1])
		note, added, err := a.storage.AddToList(m[2], items)
		if err != nil {
			return "", err
		}
		if len(added) == 0 {
			return fmt.Sprintf("Those items are already on your %s list.", note.Title), nil
		}
		return fmt.Sprintf("Added %s to your %s list.", joinSpoken(added), note.Title), nil

	case removeRe.MatchString(query):
		m := removeRe.FindStringSubmatch(query)
		items := splitItems(m[1])
		note, removed, err := a.storage.RemoveFromList(m[2], items)
		if err != nil {
			return "", err
		}
		if len(removed) == 0 {
			return fmt.Sprintf("I couldn't find those items on your %s list.", note.Title), nil
		}
		return fmt.Sprintf("Removed %s from your %s list.", joinSpoken(removed), note.Title), nil

	case clearRe.MatchString(query):
		m := clearRe.FindStringSubmatch(query)
		note, err := a.storage.ClearList(m[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Cleared your %s list.", note.Title), nil

	case remindRe.MatchString(query):
		m := remindRe.FindStringSubmatch(query)
		if _, err := a.storage.CreateNote(titleCase(m[1]), TypeReminder, m[1], nil); err != nil {
			return "", err
		}
		return fmt.Sprintf("Okay, I'll remember to remind you to %s.", m[1]), nil

	case readRe.MatchString(query):
		m := readRe.FindStringSubmatch(query)
		return a.read(m[1])

	case rememberRe.MatchString(query):
		m := rememberRe.FindStringSubmatch(query)
		if _, err := a.storage.CreateNote(titleCase(firstWords(m[1], 5)), TypeGeneral, m[1], nil); err != nil {
			return "", err
		}
		return "Got it, I've made a note of that.", nil

	case deleteRe.MatchString(query):
		m := deleteRe.FindStringSubmatch(query)
		deleted, err := a.storage.DeleteNote(m[1])
		if err != nil {
			return "", err
		}
		if !deleted {
			return fmt.Sprintf("I couldn't find a note called %s.", m[1]), nil
		}
		return fmt.Sprintf("Deleted %s.", m[1]), nil
	}

	return "I can manage your notes and lists. Try something like " +
		"\"add milk to my shopping list\" or \"what's on my todo list\".", nil
}

func (a *Agent) read(name string) (string, error) {
	note, err := a.storage.GetNote(name)
	if err != nil {
		return "", err
	}

	if note.Type == TypeList {
		if len(note.Items) == 0 {
			return fmt.Sprintf("Your %s list is empty.", note.Title), nil
		}
		return fmt.Sprintf("Your %s list has %s.", note.Title, joinSpoken(note.Items)), nil
	}
	if note.Content == "" {
		return fmt.Sprintf("%s is empty.", note.Title), nil
	}
	return fmt.Sprintf("%s: %s", note.Title, note.Content), nil
}

func (a *Agent) listAll() (string, error) {
	all, err := a.storage.ListNotes("")
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "You don't have any notes or lists yet.", nil
	}

	titles := make([]string, len(all))
	for i, n := range all {
		titles[i] = n.Title
	}
	return fmt.Sprintf("You have %d notes: %s.", len(all), joinSpoken(titles)), nil
}

// splitItems breaks "milk, eggs and bread" into separate items.
func splitItems(s string) []string {
	s = regexp.MustCompile(`(?i)\s+and\s+`).ReplaceAllString(s, ",")
	parts := strings.Split(s, ",")
	var items []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}

// joinSpoken joins items the way a sentence would: "a, b, and c".
func joinSpoken(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func userError(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "I couldn't find that note"
	case errors.Is(err, ErrNotAList):
		return "that note isn't a list"
	default:
		return "something went wrong with your notes"
	}
}

var _ agent.Agent = (*Agent)(nil)
