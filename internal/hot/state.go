package hot

// Lesson is a critical lesson kept in always-resident memory.
type Lesson struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
	Timestamp  float64 `json:"timestamp"`
}

// Event is a recent happening in the agent's active context.
type Event struct {
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// Task is a pending or finished unit of work.
type Task struct {
	Text      string  `json:"text"`
	Status    string  `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

// Project is an active project, upserted by Name.
type Project struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ActiveContext groups what the agent is currently working on.
type ActiveContext struct {
	Projects []Project `json:"projects"`
	Events   []Event   `json:"events"`
	Tasks    []Task    `json:"tasks"`
}

// State is the persisted hot memory document.
type State struct {
	Identity        map[string]any `json:"identity"`
	OwnerProfile    map[string]any `json:"owner_profile"`
	ActiveContext   ActiveContext  `json:"active_context"`
	CriticalLessons []Lesson       `json:"critical_lessons"`
}

// NewState returns an empty hot state with every section initialized.
func NewState() *State {
	s := &State{}
	s.normalize()
	return s
}

// normalize replaces nil sections so the serialized form is stable.
func (s *State) normalize() {
	if s.Identity == nil {
		s.Identity = map[string]any{}
	}
	if s.OwnerProfile == nil {
		s.OwnerProfile = map[string]any{}
	}
	if s.ActiveContext.Projects == nil {
		s.ActiveContext.Projects = []Project{}
	}
	if s.ActiveContext.Events == nil {
		s.ActiveContext.Events = []Event{}
	}
	if s.ActiveContext.Tasks == nil {
		s.ActiveContext.Tasks = []Task{}
	}
	if s.CriticalLessons == nil {
		s.CriticalLessons = []Lesson{}
	}
}
