package browsercap_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/browsercap/captest"
)

// Embedded page programs must be bare arrow functions: the CDP evaluator
// detects a function literal by its first characters.
func TestScriptsAreArrowFunctions(t *testing.T) {
	scripts := map[string]string{
		"read_storage":  browsercap.ScriptReadStorage,
		"write_storage": browsercap.ScriptWriteStorage,
		"fingerprint":   browsercap.ScriptFingerprint,
		"geolocation":   browsercap.ScriptGeolocation,
	}
	for name, src := range scripts {
		if src == "" {
			t.Errorf("%s: empty script", name)
			continue
		}
		if !strings.HasPrefix(strings.TrimSpace(src), "(") {
			t.Errorf("%s: does not start with a function literal: %.30q", name, src)
		}
	}
}

func TestReadStorage(t *testing.T) {
	p := &captest.Provider{
		Local:   map[string]map[string]string{"tab-1": {"user_id": "42"}},
		Session: map[string]map[string]string{"tab-1": {"csrf": "x"}},
	}
	data, err := browsercap.ReadStorage(context.Background(), p, "tab-1")
	if err != nil {
		t.Fatalf("ReadStorage: %v", err)
	}
	if data.LocalStorage["user_id"] != "42" || data.SessionStorage["csrf"] != "x" {
		t.Fatalf("data = %+v", data)
	}
}

func TestWriteStorage(t *testing.T) {
	p := &captest.Provider{FailWriteKeys: []string{"huge_blob"}}
	failures, err := browsercap.WriteStorage(context.Background(), p, "tab-1",
		map[string]string{"user_id": "42", "huge_blob": "..."},
		map[string]string{"csrf": "x"})
	if err != nil {
		t.Fatalf("WriteStorage: %v", err)
	}
	if len(failures) != 1 || failures[0].Key != "huge_blob" || failures[0].Area != "localStorage" {
		t.Fatalf("failures = %+v", failures)
	}
	if p.Local["tab-1"]["user_id"] != "42" || p.Session["tab-1"]["csrf"] != "x" {
		t.Fatal("surviving keys not written")
	}
}
