package domain

// Actor identifies the authenticated principal performing a mutation.
// Admin actors may reactivate completed sprints and move tasks into them.
type Actor struct {
	ID    string
	Admin bool
}
