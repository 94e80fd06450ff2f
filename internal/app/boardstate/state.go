package boardstate

// State bundles the containers shared by the listener, the mutation pipeline
// and the presentation layer. It is passed by reference instead of living in
// package globals.
type State struct {
	Tasks      *Store
	Activity   *Feed
	Users      *Directory
	Projection *Projection
}

func NewState() *State {
	tasks := NewStore()
	return &State{
		Tasks:      tasks,
		Activity:   NewFeed(),
		Users:      NewDirectory(),
		Projection: NewProjection(tasks),
	}
}
