package models

// Conversable is anything the tutor chat can run against: it has attached
// files, an ordered transcript and a notes-equivalent text. Subject and
// Concurso implement it natively, so chat logic never reshapes one record
// kind into the other.
type Conversable interface {
	ConversationID() string
	AttachedFiles() []StoredFile
	Thread() []Message
	SetThread(msgs []Message)
	NotesText() string
	SetNotesText(text string)
}

func (s *Subject) ConversationID() string { return s.ID }

func (s *Subject) AttachedFiles() []StoredFile { return s.Files }

func (s *Subject) Thread() []Message { return s.Messages }

func (s *Subject) SetThread(msgs []Message) { s.Messages = msgs }

func (s *Subject) NotesText() string { return s.Notes }

func (s *Subject) SetNotesText(text string) { s.Notes = text }

func (c *Concurso) ConversationID() string { return c.ID }

func (c *Concurso) AttachedFiles() []StoredFile { return []StoredFile{c.File} }

func (c *Concurso) Thread() []Message { return c.Messages }

func (c *Concurso) SetThread(msgs []Message) { c.Messages = msgs }

func (c *Concurso) NotesText() string { return c.Analysis }

func (c *Concurso) SetNotesText(text string) { c.Analysis = text }
