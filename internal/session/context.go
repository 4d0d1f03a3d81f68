package session

import "maps"

// Context is the scratch space handlers write between turns. Known fields are
// typed; anything else goes in Extra.
type Context struct {
	ActiveProjectName   string         `json:"active_project_name,omitempty"`
	LastTaskSessionID   string         `json:"last_task_session_id,omitempty"`
	LastTaskDescription string         `json:"last_task_description,omitempty"`
	ProfileName         string         `json:"profile_name,omitempty"`
	Extra               map[string]any `json:"extra,omitempty"`
}

// ContextPatch is a partial context update. Nil fields are left alone and
// Extra keys are merged one by one.
type ContextPatch struct {
	ActiveProjectName   *string
	LastTaskSessionID   *string
	LastTaskDescription *string
	ProfileName         *string
	Extra               map[string]any
}

// String is a convenience for building patches.
func String(v string) *string {
	return &v
}

// IsZero reports whether the patch changes nothing.
func (p ContextPatch) IsZero() bool {
	return p.ActiveProjectName == nil &&
		p.LastTaskSessionID == nil &&
		p.LastTaskDescription == nil &&
		p.ProfileName == nil &&
		len(p.Extra) == 0
}

// Then returns a patch equivalent to applying p and then next.
func (p ContextPatch) Then(next ContextPatch) ContextPatch {
	out := p
	if next.ActiveProjectName != nil {
		out.ActiveProjectName = next.ActiveProjectName
	}
	if next.LastTaskSessionID != nil {
		out.LastTaskSessionID = next.LastTaskSessionID
	}
	if next.LastTaskDescription != nil {
		out.LastTaskDescription = next.LastTaskDescription
	}
	if next.ProfileName != nil {
		out.ProfileName = next.ProfileName
	}
	if len(next.Extra) > 0 {
		merged := make(map[string]any, len(p.Extra)+len(next.Extra))
		maps.Copy(merged, p.Extra)
		maps.Copy(merged, next.Extra)
		out.Extra = merged
	}
	return out
}

// Merge returns c with patch applied.
func (c Context) Merge(patch ContextPatch) Context {
	out := c.Clone()
	if patch.ActiveProjectName != nil {
		out.ActiveProjectName = *patch.ActiveProjectName
	}
	if patch.LastTaskSessionID != nil {
		out.LastTaskSessionID = *patch.LastTaskSessionID
	}
	if patch.LastTaskDescription != nil {
		out.LastTaskDescription = *patch.LastTaskDescription
	}
	if patch.ProfileName != nil {
		out.ProfileName = *patch.ProfileName
	}
	if len(patch.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(patch.Extra))
		}
		maps.Copy(out.Extra, patch.Extra)
	}
	return out
}

// Clone returns a copy whose Extra map is not shared. Values inside Extra are
// copied shallowly.
func (c Context) Clone() Context {
	out := c
	if c.Extra != nil {
		out.Extra = maps.Clone(c.Extra)
	}
	return out
}
