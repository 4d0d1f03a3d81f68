package session

import "time"

// Mutation is the set of changes a handler made to its View. The conversation
// manager replays it against the stored record: clear first, then the active
// project, then the context patch.
type Mutation struct {
	Clear         bool
	ActiveProject *string
	Context       ContextPatch
}

// IsZero reports whether the mutation changes nothing.
func (m Mutation) IsZero() bool {
	return !m.Clear && m.ActiveProject == nil && m.Context.IsZero()
}

// ApplyTo applies the mutation to s.
func (m Mutation) ApplyTo(s *Session, now time.Time) {
	if m.Clear {
		s.ClearHistory(now)
	}
	if m.ActiveProject != nil {
		s.SetActiveProject(*m.ActiveProject, now)
	}
	if !m.Context.IsZero() {
		s.UpdateContext(m.Context, now)
	}
}

// View is a handler's private, mutable copy of a session. Changes are visible
// through Session immediately and recorded for the manager to persist.
type View struct {
	session  Session
	mutation Mutation
	now      func() time.Time
}

// NewView wraps a copy of s.
func NewView(s Session) *View {
	return &View{session: s.Clone(), now: time.Now}
}

// Session returns the current state of the view.
func (v *View) Session() Session {
	return v.session
}

// SenderID returns the sender the view belongs to.
func (v *View) SenderID() string {
	return v.session.SenderID
}

// ActiveProject returns the bound project id or "".
func (v *View) ActiveProject() string {
	return v.session.ActiveProject()
}

// Context returns the current context.
func (v *View) Context() Context {
	return v.session.Context
}

// SetActiveProject binds a project and records its display name.
func (v *View) SetActiveProject(projectID, name string) {
	v.session.SetActiveProject(projectID, v.now())
	v.mutation.ActiveProject = String(v.session.ActiveProject())
	v.UpdateContext(ContextPatch{ActiveProjectName: String(name)})
}

// UpdateContext merges patch into the view's context.
func (v *View) UpdateContext(patch ContextPatch) {
	if patch.IsZero() {
		return
	}
	v.session.UpdateContext(patch, v.now())
	v.mutation.Context = v.mutation.Context.Then(patch)
}

// ClearHistory clears history and context. Context updates recorded before
// the clear are dropped since the clear would erase them anyway.
func (v *View) ClearHistory() {
	v.session.ClearHistory(v.now())
	v.mutation.Clear = true
	v.mutation.Context = ContextPatch{}
}

// Mutation returns the recorded changes.
func (v *View) Mutation() Mutation {
	return v.mutation
}
