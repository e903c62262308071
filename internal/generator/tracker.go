package generator

import (
	"aicoder/internal/agent"
	"aicoder/internal/workspace"
)

// changeTracker derives created and modified paths from loop events. A path
// counts as pre-existing if it was on disk when the run first touched it.
type changeTracker struct {
	ws       *workspace.Workspace
	existed  map[string]bool
	pending  map[string]string // call ID to relative path
	files    orderedSet
	modified orderedSet
	dirs     orderedSet
}

func newChangeTracker(ws *workspace.Workspace) *changeTracker {
	return &changeTracker{
		ws:      ws,
		existed: make(map[string]bool),
		pending: make(map[string]string),
	}
}

func (t *changeTracker) observe(e agent.Event) {
	if e.Call == nil || (e.Call.Name != "write_to_file" && e.Call.Name != "create_directory") {
		return
	}
	switch e.Kind {
	case agent.EventToolStart:
		path, _ := e.Call.Arguments["path"].(string)
		abs, err := t.ws.Resolve(path)
		if err != nil {
			return
		}
		rel := t.ws.Rel(abs)
		if _, seen := t.existed[rel]; !seen {
			t.existed[rel] = t.ws.Exists(path)
		}
		t.pending[e.Call.ID] = rel
	case agent.EventToolResult:
		rel, ok := t.pending[e.Call.ID]
		delete(t.pending, e.Call.ID)
		if !ok || e.Result == nil || !e.Result.Success {
			return
		}
		switch {
		case e.Call.Name == "create_directory":
			if !t.existed[rel] {
				t.dirs.add(rel)
			}
		case t.existed[rel]:
			t.modified.add(rel)
		default:
			t.files.add(rel)
		}
	}
}

type orderedSet struct {
	items []string
	seen  map[string]bool
}

func (s *orderedSet) add(v string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if !s.seen[v] {
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}

// list never returns nil so reports encode empty lists as [].
func (s *orderedSet) list() []string {
	return append([]string{}, s.items...)
}
