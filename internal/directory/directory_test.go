package directory

import (
	"os"
	"path/filepath"
	"testing"
)

const orgYAML = `
orgs:
  - id: orgA
    name: Org A
    url: https://orga.example.com
    username: admin@orga
    password: secretA
  - id: orgB
    name: Org B
    url: https://orgb.example.com
    username: admin@orgb
    password: secretB
`

func writeOrgFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orgs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDirectory_GetByID(t *testing.T) {
	d, err := Load(writeOrgFile(t, orgYAML))
	if err != nil {
		t.Fatal(err)
	}

	org, err := d.GetByID("orgA")
	if err != nil {
		t.Fatal(err)
	}
	if org.Name != "Org A" {
		t.Errorf("Name = %q, want %q", org.Name, "Org A")
	}
	if org.Credentials.Password != "secretA" {
		t.Errorf("Password = %q, want %q", org.Credentials.Password, "secretA")
	}

	if _, err := d.GetByID("unknown"); err == nil {
		t.Error("unknown org id did not error")
	}
}

func TestDirectory_GetByIDs(t *testing.T) {
	d, err := Load(writeOrgFile(t, orgYAML))
	if err != nil {
		t.Fatal(err)
	}

	orgs, err := d.GetByIDs([]string{"orgB", "orgA"})
	if err != nil {
		t.Fatal(err)
	}
	if len(orgs) != 2 {
		t.Fatalf("orgs length = %d, want 2", len(orgs))
	}
	if orgs[0].ID != "orgB" || orgs[1].ID != "orgA" {
		t.Errorf("order = %s,%s, want orgB,orgA", orgs[0].ID, orgs[1].ID)
	}

	if _, err := d.GetByIDs([]string{"orgA", "nope"}); err == nil {
		t.Error("unknown id in set did not error")
	}
}

func TestDirectory_Reload(t *testing.T) {
	path := writeOrgFile(t, orgYAML)
	d, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	updated := orgYAML + `
  - id: orgC
    name: Org C
    url: https://orgc.example.com
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := d.Reload(); err != nil {
		t.Fatal(err)
	}

	if _, err := d.GetByID("orgC"); err != nil {
		t.Errorf("orgC missing after reload: %v", err)
	}
}

func TestDirectory_RejectsMissingFields(t *testing.T) {
	if _, err := Load(writeOrgFile(t, "orgs:\n  - name: nameless\n    url: https://x.example.com\n")); err == nil {
		t.Error("org without id was accepted")
	}
	if _, err := Load(writeOrgFile(t, "orgs:\n  - id: orgX\n")); err == nil {
		t.Error("org without url was accepted")
	}
}
