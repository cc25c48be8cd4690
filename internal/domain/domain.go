package domain

// Methodology is a named verification workflow definition. Process holds the
// encoded state-machine configuration and must be parsed before use.
type Methodology struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Process     string `json:"process"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// VerificationUnit is a piece of preserved content moving through a
// methodology. State carries the last persisted machine snapshot;
// Verification correlates the unit to its annotation records.
type VerificationUnit struct {
	ID           int    `json:"id"`
	Source       string `json:"source"`
	Title        string `json:"title"`
	Photos       int    `json:"photos"`
	Videos       int    `json:"videos"`
	State        string `json:"state"`
	Verification int    `json:"verification"`
}

// FullUnit is the complete preserved record, fetched only for export.
type FullUnit struct {
	ID          int    `json:"id"`
	IDHash      string `json:"id_hash"`
	Source      string `json:"source"`
	UnitID      string `json:"unit_id"`
	Body        string `json:"body,omitempty"`
	Href        string `json:"href,omitempty"`
	Author      string `json:"author,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	FetchedAt   string `json:"fetched_at" format:"date-time"`
}

// AnnotationSchema describes one editable field attached to a workflow node.
type AnnotationSchema struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Kind        string   `json:"kind" enum:"string,text,datetime,boolean,selection"`
	Required    bool     `json:"required,omitempty"`
	Selections  []string `json:"selections,omitempty"`
}

// Annotation is a value recorded against a unit's verification record.
type Annotation struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Value any    `json:"value"`
	Note  string `json:"note,omitempty"`
}

// Investigation binds a slug to the methodology its segments are verified
// against.
type Investigation struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Methodology string `json:"methodology"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Label     string `json:"label,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	Investigation string `json:"investigation,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}
