package models

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// StoredFile is an uploaded document attached to a subject or concurso.
// Data holds the payload as a self-describing base64 data string. An empty
// Data field means the payload lives in the blob store and still needs
// hydration; it never means "this file has no content".
type StoredFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
	Notes    string `json:"notes,omitempty"`
}

// Message is a single chat turn. Text is mutable while the model response
// is streaming and frozen once the stream ends.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	IsError   bool   `json:"isError,omitempty"`
}

// Flashcard is a generated question/answer pair. Cards are immutable and
// replaced wholesale on regeneration.
type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Subject is a user-defined study topic grouping files, chat history,
// notes and flashcards.
type Subject struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Files       []StoredFile `json:"files"`
	Messages    []Message    `json:"messages"`
	Notes       string       `json:"notes"`
	Flashcards  []Flashcard  `json:"flashcards,omitempty"`
	CreatedAt   int64        `json:"createdAt"`
}

// Concurso is an analyzed exam notice with its own chat thread. It carries
// exactly one file; the generated analysis stands in for notes.
type Concurso struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	File      StoredFile `json:"file"`
	Analysis  string     `json:"analysis"`
	Messages  []Message  `json:"messages"`
	CreatedAt int64      `json:"createdAt"`
}

// Clone returns a deep copy of the subject.
func (s Subject) Clone() Subject {
	c := s
	c.Files = append([]StoredFile(nil), s.Files...)
	c.Messages = append([]Message(nil), s.Messages...)
	if s.Flashcards != nil {
		c.Flashcards = append([]Flashcard(nil), s.Flashcards...)
	}
	return c
}

// Clone returns a deep copy of the concurso.
func (c Concurso) Clone() Concurso {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

// CloneSubjects deep-copies a subject collection.
func CloneSubjects(subjects []Subject) []Subject {
	out := make([]Subject, len(subjects))
	for i, s := range subjects {
		out[i] = s.Clone()
	}
	return out
}

// CloneConcursos deep-copies a concurso collection.
func CloneConcursos(concursos []Concurso) []Concurso {
	out := make([]Concurso, len(concursos))
	for i, c := range concursos {
		out[i] = c.Clone()
	}
	return out
}
