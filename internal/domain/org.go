package domain

// Credentials holds the login secret for an org. The value is opaque
// to everything except the login step of the state machine: String,
// GoString and MarshalJSON all redact so credentials cannot end up in
// logs, status events or history records by accident.
type Credentials struct {
	Username string `yaml:"username" json:"-"`
	Password string `yaml:"password" json:"-"`
}

func (c Credentials) String() string   { return "credentials(redacted)" }
func (c Credentials) GoString() string { return "credentials(redacted)" }

// MarshalJSON always serializes to a redaction marker
func (c Credentials) MarshalJSON() ([]byte, error) {
	return []byte(`"redacted"`), nil
}

// Org is one external organization account an upgrade can target.
// Immutable once loaded for an attempt.
type Org struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	URL         string      `yaml:"url" json:"url"`
	Credentials Credentials `yaml:"credentials" json:"-"`
}
